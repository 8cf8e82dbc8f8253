package mailbox

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/emersion/go-message/mail"

	_ "github.com/emersion/go-message/charset"
)

// extractBody pulls the displayable body out of a raw RFC 822 message,
// preferring the HTML part over plain text. The processor strips markup
// itself, so plain text passes through unchanged.
func extractBody(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}

	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("read message: %w", err)
	}

	var plain string

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return "", fmt.Errorf("read part: %w", err)
		}

		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		contentType, _, err := header.ContentType()
		if err != nil {
			continue
		}

		switch contentType {
		case "text/html":
			body, err := io.ReadAll(part.Body)
			if err != nil {
				return "", fmt.Errorf("read html part: %w", err)
			}

			return string(body), nil
		case "text/plain":
			body, err := io.ReadAll(part.Body)
			if err != nil {
				return "", fmt.Errorf("read text part: %w", err)
			}

			plain = string(body)
		}
	}

	return plain, nil
}
