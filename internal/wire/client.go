// Package wire implements the text-binary hybrid framing used between
// clients and a node: '$' string, '!' error, '#' record array.
package wire

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"

	v1 "github.com/mrshabel/chronodb/api/v1"
)

// ErrCodec is returned when a frame cannot be parsed.
var ErrCodec = errors.New("wire: codec error")

// ReadRequest reads a single `'$' <len> '\r\n' <query bytes> '\r\n'` frame
// and returns the query text.
func ReadRequest(r *bufio.Reader) (string, error) {
	lead, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if lead != '$' {
		return "", fmt.Errorf("%w: unexpected leading byte %q", ErrCodec, lead)
	}
	n, err := readDecimalLine(r)
	if err != nil {
		return "", err
	}
	body := make([]byte, n)
	if _, err := readFull(r, body); err != nil {
		return "", err
	}
	if err := expectCRLF(r); err != nil {
		return "", err
	}
	return string(body), nil
}

// WriteString writes a `'$' <len> '\r\n' <bytes> '\r\n'` response frame.
func WriteString(w *bufio.Writer, s string) error {
	if _, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(s), s); err != nil {
		return err
	}
	return w.Flush()
}

// WriteError writes a `'!' <len> '\r\n' <bytes> '\r\n'` error response.
func WriteError(w *bufio.Writer, msg string) error {
	if _, err := fmt.Fprintf(w, "!%d\r\n%s\r\n", len(msg), msg); err != nil {
		return err
	}
	return w.Flush()
}

// WriteRecords writes a `'#' <count> '\r\n' ( ':' <u64 ts> '\r\n' ';' <f64
// value> '\r\n' )*` array response.
func WriteRecords(w *bufio.Writer, records []v1.Record) error {
	if _, err := fmt.Fprintf(w, "#%d\r\n", len(records)); err != nil {
		return err
	}
	for _, r := range records {
		if _, err := fmt.Fprintf(w, ":%d\r\n;%s\r\n", r.TimestampNS, formatFloat(r.Value)); err != nil {
			return err
		}
	}
	return w.Flush()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func readDecimalLine(r *bufio.Reader) (int, error) {
	var digits []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		if b == '\r' {
			nb, err := r.ReadByte()
			if err != nil {
				return 0, err
			}
			if nb != '\n' {
				return 0, fmt.Errorf("%w: expected LF after CR", ErrCodec)
			}
			break
		}
		if b < '0' || b > '9' {
			return 0, fmt.Errorf("%w: non-digit in length field", ErrCodec)
		}
		digits = append(digits, b)
	}
	n, err := strconv.Atoi(string(digits))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCodec, err)
	}
	return n, nil
}

func expectCRLF(r *bufio.Reader) error {
	cr, err := r.ReadByte()
	if err != nil {
		return err
	}
	lf, err := r.ReadByte()
	if err != nil {
		return err
	}
	if cr != '\r' || lf != '\n' {
		return fmt.Errorf("%w: expected CRLF terminator", ErrCodec)
	}
	return nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
