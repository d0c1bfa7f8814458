package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const identityToolkitURL = "https://identitytoolkit.googleapis.com/v1/accounts:signInWithPassword"

// newFirebaseApp initializes the Admin SDK from the FIREBASE_* variables, or
// from FIREBASE_CREDENTIALS_FILE when that is set.
func newFirebaseApp(ctx context.Context, fc FirebaseConfig) (*firebase.App, error) {
	var opts []option.ClientOption
	switch {
	case fc.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(fc.CredentialsFile))
	case fc.PrivateKey != "":
		creds, err := json.Marshal(map[string]string{
			"type":                        fc.Type,
			"project_id":                  fc.ProjectID,
			"private_key_id":              fc.PrivateKeyID,
			"private_key":                 fc.PrivateKey,
			"client_email":                fc.ClientEmail,
			"client_id":                   fc.ClientID,
			"auth_uri":                    fc.AuthURI,
			"token_uri":                   fc.TokenURI,
			"auth_provider_x509_cert_url": fc.AuthProviderX509CertURL,
			"client_x509_cert_url":        fc.ClientX509CertURL,
		})
		if err != nil {
			return nil, fmt.Errorf("encode firebase credentials: %w", err)
		}
		opts = append(opts, option.WithCredentialsJSON(creds))
	}
	// With neither set the SDK falls back to Application Default Credentials.

	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID:   fc.ProjectID,
		DatabaseURL: fc.DatabaseURL,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase: %w", err)
	}
	return app, nil
}

// FirebaseAuth wraps the Admin SDK auth client. The Admin SDK cannot check
// passwords; when a web API key is configured Login verifies them through the
// Identity Toolkit REST API.
type FirebaseAuth struct {
	client     *auth.Client
	webAPIKey  string
	signInURL  string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewFirebaseAuth(client *auth.Client, webAPIKey string, logger *zap.Logger) *FirebaseAuth {
	if webAPIKey == "" {
		logger.Warn("FIREBASE_WEB_API_KEY not set; /login will not verify passwords")
	}
	return &FirebaseAuth{
		client:     client,
		webAPIKey:  webAPIKey,
		signInURL:  identityToolkitURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

func (f *FirebaseAuth) Register(ctx context.Context, email, password string) (string, error) {
	if err := validateCredentials(email, password); err != nil {
		return "", err
	}
	params := (&auth.UserToCreate{}).Email(normalizeEmail(email)).Password(password)
	u, err := f.client.CreateUser(ctx, params)
	if auth.IsEmailAlreadyExists(err) {
		return "", fmt.Errorf("email %s: %w", email, ErrConflict)
	}
	if err != nil {
		return "", fmt.Errorf("create firebase user: %w", err)
	}
	return u.UID, nil
}

func (f *FirebaseAuth) Login(ctx context.Context, email, password string) (string, string, error) {
	var uid string
	if f.webAPIKey != "" {
		var err error
		uid, err = f.verifyPassword(ctx, email, password)
		if err != nil {
			return "", "", err
		}
	} else {
		u, err := f.client.GetUserByEmail(ctx, normalizeEmail(email))
		if auth.IsUserNotFound(err) {
			return "", "", ErrUnauthorized
		}
		if err != nil {
			return "", "", fmt.Errorf("lookup firebase user: %w", err)
		}
		uid = u.UID
	}

	token, err := f.client.CustomToken(ctx, uid)
	if err != nil {
		return "", "", fmt.Errorf("mint custom token: %w", err)
	}
	return token, uid, nil
}

type signInResponse struct {
	LocalID string `json:"localId"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (f *FirebaseAuth) verifyPassword(ctx context.Context, email, password string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"email":             normalizeEmail(email),
		"password":          password,
		"returnSecureToken": false,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.signInURL+"?key="+f.webAPIKey, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("identity toolkit call failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	var out signInResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("failed to decode sign-in response: %w", err)
	}
	if resp.StatusCode == http.StatusBadRequest && out.Error != nil {
		// EMAIL_NOT_FOUND, INVALID_PASSWORD, INVALID_LOGIN_CREDENTIALS, USER_DISABLED ...
		return "", fmt.Errorf("%s: %w", out.Error.Message, ErrUnauthorized)
	}
	if resp.StatusCode != http.StatusOK || out.LocalID == "" {
		return "", fmt.Errorf("identity toolkit returned status %d: %s", resp.StatusCode, string(body))
	}
	return out.LocalID, nil
}

func (f *FirebaseAuth) LookupEmail(ctx context.Context, email string) (string, error) {
	u, err := f.client.GetUserByEmail(ctx, normalizeEmail(email))
	if auth.IsUserNotFound(err) {
		return "", fmt.Errorf("email %s: %w", email, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("lookup firebase user: %w", err)
	}
	return u.UID, nil
}

func (f *FirebaseAuth) ResetPassword(ctx context.Context, email, newPassword string) error {
	if len(newPassword) < minPasswordLength {
		return badRequest("Password must be at least 6 characters long")
	}
	uid, err := f.LookupEmail(ctx, email)
	if err != nil {
		return err
	}
	if _, err := f.client.UpdateUser(ctx, uid, (&auth.UserToUpdate{}).Password(newPassword)); err != nil {
		return fmt.Errorf("update firebase password: %w", err)
	}
	return nil
}

func (f *FirebaseAuth) DeleteAccount(ctx context.Context, userID string) error {
	err := f.client.DeleteUser(ctx, userID)
	if err != nil && !auth.IsUserNotFound(err) {
		return fmt.Errorf("delete firebase user: %w", err)
	}
	return nil
}

func (f *FirebaseAuth) VerifyToken(ctx context.Context, token string) (string, error) {
	t, err := f.client.VerifyIDToken(ctx, token)
	if err != nil {
		return "", fmt.Errorf("%v: %w", err, ErrUnauthorized)
	}
	return t.UID, nil
}
