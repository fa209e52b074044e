package codec

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net/url"
	"strings"
)

// Alphabet for human-transcribed ticket codes. 0/O and 1/I are excluded.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	MinCodeLength     = 8
	MaxCodeLength     = 12
	DefaultCodeLength = 10
)

// GenerateTicketCode returns a uniformly random code of the given length,
// clamped to [8,12].
func GenerateTicketCode(length int) (string, error) {
	if length < MinCodeLength {
		length = MinCodeLength
	}
	if length > MaxCodeLength {
		length = MaxCodeLength
	}

	var sb strings.Builder
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate ticket code: %w", err)
		}
		sb.WriteByte(codeAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// GeneratePin returns a 4-digit zero-padded PIN, independent of the ticket
// code.
func GeneratePin() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", fmt.Errorf("failed to generate pin: %w", err)
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}

// BuildValidationURL is the QR payload: the gate UI opens it and the
// backend parses it back into (ticketId, code).
func BuildValidationURL(origin, ticketID, ticketCode string) string {
	q := url.Values{}
	q.Set("ticketId", ticketID)
	q.Set("code", ticketCode)
	return strings.TrimRight(origin, "/") + "/validate-ticket?" + q.Encode()
}

// ParseValidationURL inverts BuildValidationURL.
func ParseValidationURL(raw string) (ticketID, ticketCode string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid validation url: %w", err)
	}
	q := u.Query()
	ticketID = q.Get("ticketId")
	ticketCode = q.Get("code")
	if ticketID == "" || ticketCode == "" {
		return "", "", fmt.Errorf("validation url is missing ticketId or code")
	}
	return ticketID, ticketCode, nil
}
