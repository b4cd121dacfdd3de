package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/pterm/pterm"
)

// printer routes pterm output to a single writer so commands can be tested.
type printer struct {
	out io.Writer
}

func (p printer) info(format string, a ...any) {
	pterm.Info.WithWriter(p.out).Printfln(format, a...)
}

func (p printer) success(format string, a ...any) {
	pterm.Success.WithWriter(p.out).Printfln(format, a...)
}

func (p printer) warning(format string, a ...any) {
	pterm.Warning.WithWriter(p.out).Printfln(format, a...)
}

func (p printer) table(rows pterm.TableData) error {
	return pterm.DefaultTable.WithHasHeader().WithWriter(p.out).WithData(rows).Render()
}

func (p printer) json(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(p.out, string(data))
	return err
}

func formatExpiry(expiry, now time.Time) string {
	if expiry.IsZero() {
		return "unknown"
	}
	if !now.Before(expiry) {
		return fmt.Sprintf("%s (expired)", expiry.Local().Format(time.RFC3339))
	}
	return fmt.Sprintf("%s (in %s)", expiry.Local().Format(time.RFC3339), expiry.Sub(now).Round(time.Second))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// mask shortens a token for display.
func mask(token string) string {
	if len(token) <= 12 {
		return orDash(token)
	}
	return token[:6] + "..." + token[len(token)-4:]
}
