package main

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const minPasswordLength = 6

// Authenticator is the account backend: Firebase Authentication in
// production, the local SQLite-backed one for development.
type Authenticator interface {
	// Register creates an account and returns its user id.
	Register(ctx context.Context, email, password string) (string, error)
	// Login checks the credentials (when the backend can) and returns a token
	// for the client plus the user id.
	Login(ctx context.Context, email, password string) (token, userID string, err error)
	// LookupEmail returns the user id registered for email.
	LookupEmail(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, email, newPassword string) error
	// DeleteAccount removes an account. Removing an unknown one is not an error.
	DeleteAccount(ctx context.Context, userID string) error
	// VerifyToken resolves a bearer token to its user id.
	VerifyToken(ctx context.Context, token string) (string, error)
}

func validateCredentials(email, password string) error {
	if err := validateEmail(email); err != nil {
		return err
	}
	if len(password) < minPasswordLength {
		return badRequest("Password must be at least 6 characters long")
	}
	return nil
}

func validateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return badRequest("Email is required")
	}
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 || strings.ContainsAny(email, " \t\n") {
		return badRequest("Email address is not valid")
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

const localsUserID = "authUserID"

// bearerUser resolves the Authorization header to a user id.
func bearerUser(c *fiber.Ctx, auth Authenticator) (string, error) {
	token, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", &apiError{status: fiber.StatusUnauthorized, message: "Missing bearer token"}
	}
	userID, err := auth.VerifyToken(c.UserContext(), strings.TrimSpace(token))
	if err != nil {
		return "", &apiError{status: fiber.StatusUnauthorized, message: "Invalid token", cause: err}
	}
	return userID, nil
}

// requireAuth checks the bearer token and stores the caller's user id in
// c.Locals. Handlers compare it with the user id they act on via authorizeUser.
func requireAuth(auth Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := bearerUser(c, auth)
		if err != nil {
			return err
		}
		c.Locals(localsUserID, userID)
		return c.Next()
	}
}

// authorizeUser rejects requests whose token belongs to someone other than
// userID. It is a no-op when auth is not enforced.
func authorizeUser(c *fiber.Ctx, userID string) error {
	caller, ok := c.Locals(localsUserID).(string)
	if !ok {
		return nil
	}
	if caller != userID {
		return &apiError{status: fiber.StatusForbidden, message: "Token does not belong to this user"}
	}
	return nil
}
