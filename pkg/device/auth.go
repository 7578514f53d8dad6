package device

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// Credentials identify this host to the device.
type Credentials struct {
	ClientID string
	Key      *rsa.PrivateKey
}

// LoadCredentials reads the client identifier and the PEM encoded RSA
// private key registered with the device.
func LoadCredentials(clientIDPath, keyPath string) (Credentials, error) {
	rawID, err := os.ReadFile(clientIDPath) // #nosec G304 - path is user configuration
	if err != nil {
		return Credentials{}, &AuthError{Op: "read client id", Err: err}
	}

	clientID := strings.TrimSpace(string(rawID))
	if clientID == "" {
		return Credentials{}, &AuthError{Op: "read client id", Err: fmt.Errorf("%s is empty", clientIDPath)}
	}

	rawKey, err := os.ReadFile(keyPath) // #nosec G304 - path is user configuration
	if err != nil {
		return Credentials{}, &AuthError{Op: "read private key", Err: err}
	}

	key, err := ParsePrivateKey(rawKey)
	if err != nil {
		return Credentials{}, err
	}

	return Credentials{ClientID: clientID, Key: key}, nil
}

// ParsePrivateKey decodes a PKCS#1 or PKCS#8 PEM RSA private key.
func ParsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	parsed, err := ssh.ParseRawPrivateKey(pemBytes)
	if err != nil {
		return nil, &AuthError{Op: "parse private key", Err: err}
	}

	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, &AuthError{Op: "parse private key", Err: fmt.Errorf("unsupported key type %T", parsed)}
	}

	return key, nil
}

// SignNonce returns the base64 RSA-SHA256 signature of nonce.
func SignNonce(key *rsa.PrivateKey, nonce string) (string, error) {
	digest := sha256.Sum256([]byte(nonce))

	signature, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return "", &AuthError{Op: "sign nonce", Err: err}
	}

	return base64.StdEncoding.EncodeToString(signature), nil
}

// Authenticate exchanges a signed nonce for a session cookie. It must
// succeed before any other call.
func (c *Client) Authenticate(ctx context.Context, creds Credentials) error {
	if creds.Key == nil {
		return &AuthError{Op: "authenticate", Err: errors.New("no private key")}
	}

	noncePath := "/auth/nonce/" + url.PathEscape(creds.ClientID)

	_, body, err := c.send(ctx, request{method: http.MethodGet, path: noncePath, anonymous: true})
	if err != nil {
		return &AuthError{Op: "request nonce", Err: err}
	}

	var nonce struct {
		Nonce string `json:"nonce"`
	}
	if err := decodeJSON(http.MethodGet, noncePath, body, &nonce); err != nil {
		return &AuthError{Op: "request nonce", Err: err}
	}
	if nonce.Nonce == "" {
		return &AuthError{Op: "request nonce", Err: errors.New("device returned an empty nonce")}
	}

	signed, err := SignNonce(creds.Key, nonce.Nonce)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]string{
		"client_id":    creds.ClientID,
		"nonce_signed": signed,
	})
	if err != nil {
		return &AuthError{Op: "encode signature", Err: err}
	}

	resp, _, err := c.send(ctx, request{
		method:      http.MethodPut,
		path:        "/auth",
		body:        payload,
		contentType: "application/json",
		anonymous:   true,
	})
	if err != nil {
		return &AuthError{Op: "submit signature", Err: err}
	}

	for _, cookie := range resp.Cookies() {
		if cookie.Name == CookieName && cookie.Value != "" {
			c.setSession(cookie.Value)
			c.logger.Info("device session established", zap.String("device", c.baseURL))
			return nil
		}
	}

	return &AuthError{Op: "submit signature", Err: errors.New("device did not issue a session cookie")}
}
