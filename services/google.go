package services

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"media-gateway/config"

	"golang.org/x/oauth2/jws"
)

// OAuth scopes requested by the service account assertion
const (
	SheetsScope = "https://www.googleapis.com/auth/spreadsheets"
	DriveScope  = "https://www.googleapis.com/auth/drive"
)

const (
	jwtBearerGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	assertionLifetime  = time.Hour
)

// ErrInvalidPrivateKey is returned when the service account key cannot be used for signing
var ErrInvalidPrivateKey = errors.New("invalid service account private key")

// GoogleAuthService mints service account assertions and exchanges them for access tokens
type GoogleAuthService struct {
	upstream
	email      string
	privateKey string
	tokenURL   string
	now        func() time.Time
}

// NewGoogleAuthService creates a new GoogleAuthService instance
func NewGoogleAuthService(cfg *config.Config) *GoogleAuthService {
	return &GoogleAuthService{
		upstream:   newUpstream(ServiceGoogleOAuth, time.Duration(cfg.HTTP.UpstreamTimeoutSeconds)*time.Second),
		email:      cfg.Google.ServiceAccountEmail,
		privateKey: cfg.Google.PrivateKey,
		tokenURL:   cfg.Google.TokenURL,
		now:        time.Now,
	}
}

// Claims returns the assertion claim set for the given issue time
func (s *GoogleAuthService) Claims(issuedAt time.Time) *jws.ClaimSet {
	iat := issuedAt.Unix()
	return &jws.ClaimSet{
		Iss:   s.email,
		Scope: strings.Join([]string{SheetsScope, DriveScope}, " "),
		Aud:   s.tokenURL,
		Iat:   iat,
		Exp:   iat + int64(assertionLifetime/time.Second),
	}
}

// MintAssertion signs a fresh RS256 assertion issued at issuedAt
func (s *GoogleAuthService) MintAssertion(issuedAt time.Time) (string, error) {
	key, err := ParsePrivateKey(s.privateKey)
	if err != nil {
		return "", err
	}

	header := &jws.Header{Algorithm: "RS256", Typ: "JWT"}
	token, err := jws.Encode(header, s.Claims(issuedAt), key)
	if err != nil {
		return "", fmt.Errorf("failed to sign assertion: %w", err)
	}
	return token, nil
}

// ExchangeToken trades an assertion for an access token using the JWT bearer grant
func (s *GoogleAuthService) ExchangeToken(ctx context.Context, assertion string) (*Relayed, error) {
	form := url.Values{}
	form.Set("grant_type", jwtBearerGrantType)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return s.do(ctx, "token", req)
}

// Authenticate mints an assertion and exchanges it in one go
func (s *GoogleAuthService) Authenticate(ctx context.Context) (*Relayed, error) {
	assertion, err := s.MintAssertion(s.now())
	if err != nil {
		return nil, err
	}
	return s.ExchangeToken(ctx, assertion)
}

// ParsePrivateKey decodes a PEM encoded RSA key in PKCS#8 or PKCS#1 form
func ParsePrivateKey(pemKey string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemKey))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrInvalidPrivateKey)
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: key is not RSA", ErrInvalidPrivateKey)
		}
		return rsaKey, nil
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	return key, nil
}

// SheetsService forwards reads and appends to the Google Sheets values API.
// The caller's Authorization header is passed through unchanged.
type SheetsService struct {
	upstream
	baseURL          string
	sheetID          string
	defaultSheet     string
	valueInputOption string
}

// NewSheetsService creates a new SheetsService instance
func NewSheetsService(cfg *config.Config) *SheetsService {
	return &SheetsService{
		upstream:         newUpstream(ServiceSheets, time.Duration(cfg.HTTP.UpstreamTimeoutSeconds)*time.Second),
		baseURL:          cfg.Google.SheetsBaseURL,
		sheetID:          cfg.Google.SheetID,
		defaultSheet:     cfg.Google.DefaultSheet,
		valueInputOption: cfg.Google.ValueInputOption,
	}
}

func (s *SheetsService) valuesURL(rangeName string) string {
	return fmt.Sprintf("%s/spreadsheets/%s/values/%s", s.baseURL, url.PathEscape(s.sheetID), url.PathEscape(rangeName))
}

// Read fetches a range in row-major order
func (s *SheetsService) Read(ctx context.Context, authorization, rangeName string) (*Relayed, error) {
	params := url.Values{}
	params.Set("majorDimension", "ROWS")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.valuesURL(rangeName)+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	return s.do(ctx, "read", req)
}

type appendRequest struct {
	Values json.RawMessage `json:"values"`
}

// Append adds rows to sheet, or to the default sheet when sheet is empty.
// An explicit empty name also selects the default, since an empty range is
// not addressable.
func (s *SheetsService) Append(ctx context.Context, authorization, sheet string, values json.RawMessage) (*Relayed, error) {
	if sheet == "" {
		sheet = s.defaultSheet
	}

	payload, err := json.Marshal(appendRequest{Values: values})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	params := url.Values{}
	params.Set("valueInputOption", s.valueInputOption)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.valuesURL(sheet)+":append?"+params.Encode(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	return s.do(ctx, "append", req)
}
