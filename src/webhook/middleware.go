package webhook

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"net/http"

	"github.com/gofiber/fiber/v3"

	"github.com/ternlib/tern/src/structs"
)

// VerifyKeyMiddleware rejects requests whose ed25519 signature over
// timestamp+body does not match the application public key.
func (s *Server) VerifyKeyMiddleware(c fiber.Ctx) error {
	headers := c.GetReqHeaders()
	timestamp, ok := headers["X-Signature-Timestamp"]
	if !ok || len(timestamp) == 0 {
		return c.Status(http.StatusUnauthorized).SendString("missing timestamp signature")
	}
	signature, ok := headers["X-Signature-Ed25519"]
	if !ok || len(signature) == 0 {
		return c.Status(http.StatusUnauthorized).SendString("missing ed25519 signature")
	}
	signatureRaw, err := hex.DecodeString(signature[0])
	if err != nil {
		return c.Status(http.StatusUnauthorized).SendString("malformed ed25519 signature")
	}
	message := bytes.Join([][]byte{[]byte(timestamp[0]), c.BodyRaw()}, []byte(""))
	if !ed25519.Verify(s.pubKey, message, signatureRaw) {
		return c.Status(http.StatusUnauthorized).SendString("invalid request signature")
	}
	return c.Next()
}

// PingRequestMiddleware answers the platform's endpoint health check.
func (s *Server) PingRequestMiddleware(c fiber.Ctx) error {
	interaction := new(structs.Interaction)
	if err := c.Bind().JSON(interaction); err != nil {
		return err
	}
	if interaction.Type == structs.InteractionTypePing {
		return c.JSON(structs.InteractionResponse{
			Type: structs.InteractionResponseTypePong,
		})
	}
	return c.Next()
}
