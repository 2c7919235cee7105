package notify

import (
	"bytes"
	"fmt"

	"github.com/yeqown/go-qrcode"
)

// RenderQR encodes text as a PNG QR code.
func RenderQR(text string) ([]byte, error) {
	qrc, err := qrcode.New(text,
		qrcode.WithQRWidth(7),
		qrcode.WithBuiltinImageEncoder(qrcode.PNG_FORMAT),
	)
	if err != nil {
		return nil, fmt.Errorf("create qr code: %w", err)
	}
	var buf bytes.Buffer
	if err := qrc.SaveTo(&buf); err != nil {
		return nil, fmt.Errorf("render qr code: %w", err)
	}
	return buf.Bytes(), nil
}
