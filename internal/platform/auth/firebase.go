package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

const defaultVerifyTimeout = 5 * time.Second

// idTokenVerifier is the subset of the Admin SDK client the verifier needs.
type idTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// FirebaseVerifier accepts Firebase ID tokens issued to storefront users.
type FirebaseVerifier struct {
	client  idTokenVerifier
	timeout time.Duration
}

// NewFirebaseVerifier initialises the Admin SDK for projectID.
func NewFirebaseVerifier(ctx context.Context, projectID, credentialsFile string) (*FirebaseVerifier, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errors.New("auth: firebase project id is required")
	}
	var opts []option.ClientOption
	if credentialsFile = strings.TrimSpace(credentialsFile); credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("auth: initialise firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: initialise firebase auth client: %w", err)
	}
	return &FirebaseVerifier{client: client, timeout: defaultVerifyTimeout}, nil
}

// Verify implements TokenVerifier. Roles come from the "roles" or "role" custom claim.
func (v *FirebaseVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if v == nil || v.client == nil {
		return nil, ErrVerifierUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	decoded, err := v.client.VerifyIDToken(ctx, token)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrVerifierUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	roles := rolesFromClaim(decoded.Claims["roles"])
	if len(roles) == 0 {
		roles = rolesFromClaim(decoded.Claims["role"])
	}
	if admin, _ := decoded.Claims["admin"].(bool); admin && !containsRole(roles, RoleAdmin) {
		roles = append(roles, RoleAdmin)
	}
	if len(roles) == 0 {
		roles = []string{RoleCustomer}
	}
	email, _ := decoded.Claims["email"].(string)
	name, _ := decoded.Claims["name"].(string)
	return &Identity{
		UserID: decoded.UID,
		Email:  strings.ToLower(strings.TrimSpace(email)),
		Name:   name,
		Roles:  roles,
		Source: "firebase",
	}, nil
}

func containsRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
