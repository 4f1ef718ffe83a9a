package services

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/conversant/backend/internal/platform/apierr"
)

// CodeGenerator mints one-time codes: URL-safe base64 of 32 random bytes.
type CodeGenerator interface {
	NewCode() (string, error)
}

type codeGenerator struct{}

func NewCodeGenerator() CodeGenerator {
	return codeGenerator{}
}

func (codeGenerator) NewCode() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", apierr.Internal("CODE_GENERATE", fmt.Errorf("read random: %w", err))
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
