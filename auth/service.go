package auth

import (
	"errors"
	"net/mail"
	"time"

	"github.com/go-pkgz/auth/v2"
	"github.com/go-pkgz/auth/v2/avatar"
	"github.com/go-pkgz/auth/v2/provider"
	"github.com/go-pkgz/auth/v2/token"
	"github.com/ukiyolabs/ukiyo-serve/config"
	"github.com/ukiyolabs/ukiyo-serve/database"
	"github.com/ukiyolabs/ukiyo-serve/models"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const Issuer = "ukiyo-serve"

// Global auth service instance
var authService *auth.Service

// SetupAuthService wires the go-pkgz token service with a direct
// credential provider backed by the users table.
func SetupAuthService() *auth.Service {
	options := auth.Opts{
		SecretReader: token.SecretFunc(func(id string) (string, error) {
			return config.Config("JWT_SECRET"), nil
		}),
		TokenDuration:  time.Hour * 24,
		CookieDuration: time.Hour * 24 * 7,
		Issuer:         Issuer,
		URL:            config.ConfigOr("APP_URL", "http://localhost:3000"),
		AvatarStore:    avatar.NewLocalFS("/tmp/avatars"),
	}

	service := auth.NewService(options)

	// Direct authentication provider that checks against the database
	service.AddDirectProvider("local", provider.CredCheckerFunc(func(identity, password string) (bool, error) {
		return ValidateUserCredentials(identity, password)
	}))

	authService = service
	return service
}

// GetAuthService returns the auth service instance.
func GetAuthService() *auth.Service {
	return authService
}

// ValidateUserCredentials checks an identity (username or email) and
// password pair against the users table.
func ValidateUserCredentials(identity, password string) (bool, error) {
	user, err := FindUserByIdentity(identity)
	if err != nil {
		return false, err
	}

	if user == nil || !user.IsActive {
		return false, nil
	}

	if !CheckPasswordHash(password, user.Password) {
		return false, nil
	}

	return true, nil
}

// FindUserByIdentity looks a user up by email when the identity parses
// as an address, by username otherwise. Returns nil without error when
// no user matches.
func FindUserByIdentity(identity string) (*models.User, error) {
	if isEmail(identity) {
		return getUserBy("email = ?", identity)
	}
	return getUserBy("username = ?", identity)
}

// HashPassword hashes a plaintext password with bcrypt.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), 10)
	return string(hashed), err
}

// CheckPasswordHash compares a plaintext password with a bcrypt hash.
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

func isEmail(identity string) bool {
	_, err := mail.ParseAddress(identity)
	return err == nil
}

func getUserBy(query string, arg string) (*models.User, error) {
	db := database.GetDB()
	var user models.User
	if err := db.Where(query, arg).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}
