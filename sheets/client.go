/*
Package sheets bridges the ledger and a Google Sheets spreadsheet.

PURPOSE:
  Committees keep a shared spreadsheet of who paid what. Export writes a
  month's register to it; Import reads payment rows back and records them
  through the billing service, so every imported payment cascades like
  one entered through the API.

AVAILABILITY:
  Without credentials or a spreadsheet id the Client is built anyway, in
  an unavailable state: every call returns *UnavailableError (matching
  ErrUnavailable). Callers never hold a nil client.

SEE ALSO:
  - rows.go: row layout and cell cleanup
*/
package sheets

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	gsheets "google.golang.org/api/sheets/v4"
	"google.golang.org/api/option"
)

var ErrUnavailable = errors.New("google sheets integration unavailable")

// UnavailableError explains why the integration is off.
type UnavailableError struct {
	Reason string
}

func (e *UnavailableError) Error() string {
	return ErrUnavailable.Error() + ": " + e.Reason
}

func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// ValuesAPI is the part of the Sheets API the bridge uses.
type ValuesAPI interface {
	Get(ctx context.Context, spreadsheetID, rng string) ([][]interface{}, error)
	Update(ctx context.Context, spreadsheetID, rng string, values [][]interface{}) error
}

type Client struct {
	api           ValuesAPI
	spreadsheetID string
	unavailable   *UnavailableError
	logger        logrus.FieldLogger
}

// NewClient wraps an existing ValuesAPI.
func NewClient(api ValuesAPI, spreadsheetID string, logger logrus.FieldLogger) *Client {
	c := &Client{api: api, spreadsheetID: spreadsheetID, logger: orDiscard(logger)}
	switch {
	case api == nil:
		c.unavailable = &UnavailableError{Reason: "no sheets client"}
	case spreadsheetID == "":
		c.unavailable = &UnavailableError{Reason: "spreadsheet id not configured"}
	}
	return c
}

// Unavailable returns a client whose every call fails with reason.
func Unavailable(reason string) *Client {
	return &Client{unavailable: &UnavailableError{Reason: reason}, logger: orDiscard(nil)}
}

// Connect builds a client from a service-account credentials file.
// Missing configuration yields an unavailable client, not an error.
func Connect(ctx context.Context, credentialsFile, spreadsheetID string, logger logrus.FieldLogger) *Client {
	if credentialsFile == "" {
		return Unavailable("SHEETS_CREDENTIALS_FILE not set")
	}
	if spreadsheetID == "" {
		return Unavailable("SHEETS_SPREADSHEET_ID not set")
	}
	svc, err := gsheets.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(gsheets.SpreadsheetsScope),
	)
	if err != nil {
		orDiscard(logger).WithError(err).Warn("google sheets client init failed")
		return Unavailable(fmt.Sprintf("client init: %v", err))
	}
	return NewClient(&googleValues{svc: svc}, spreadsheetID, logger)
}

// Err is nil when the client can be used.
func (c *Client) Err() error {
	if c.unavailable != nil {
		return c.unavailable
	}
	return nil
}

func (c *Client) read(ctx context.Context, rng string) ([][]interface{}, error) {
	if err := c.Err(); err != nil {
		return nil, err
	}
	return c.api.Get(ctx, c.spreadsheetID, rng)
}

func (c *Client) write(ctx context.Context, rng string, values [][]interface{}) error {
	if err := c.Err(); err != nil {
		return err
	}
	return c.api.Update(ctx, c.spreadsheetID, rng, values)
}

// googleValues adapts *sheets.Service to ValuesAPI.
type googleValues struct {
	svc *gsheets.Service
}

func (g *googleValues) Get(ctx context.Context, spreadsheetID, rng string) ([][]interface{}, error) {
	resp, err := g.svc.Spreadsheets.Values.Get(spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sheets get %s: %w", rng, err)
	}
	return resp.Values, nil
}

func (g *googleValues) Update(ctx context.Context, spreadsheetID, rng string, values [][]interface{}) error {
	_, err := g.svc.Spreadsheets.Values.Update(spreadsheetID, rng, &gsheets.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("sheets update %s: %w", rng, err)
	}
	return nil
}

func orDiscard(logger logrus.FieldLogger) logrus.FieldLogger {
	if logger != nil {
		return logger
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
