package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// codeAlphabet omits 0/O and 1/I/L so codes survive being read aloud.
const (
	codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	codeLength   = 8
	codeAttempts = 5
)

// RandomCode returns a reconnect code drawn from crypto/rand.
func RandomCode() (string, error) {
	limit := big.NewInt(int64(len(codeAlphabet)))
	var sb strings.Builder
	sb.Grow(codeLength)
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		sb.WriteByte(codeAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// NormalizeCode canonicalises user input before lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// uniqueCode generates a code not yet issued to any session.
func (m *Manager) uniqueCode(ctx context.Context) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code, err := m.newCode()
		if err != nil {
			return "", err
		}
		taken, err := m.repo.CodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check code: %w", err)
		}
		if !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("no free reconnect code after %d attempts", codeAttempts)
}
