package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mentormesh/mentormesh/libs/db"
	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/availability"
	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/booking"
	"golang.org/x/oauth2"
)

// UserRepository resolves participants and their stored calendar
// credentials. It backs the booking directory and the calendar credentials
// store.
type UserRepository struct {
	pool *db.Pool
}

func NewUserRepository(pool *db.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) ResolveByEmail(ctx context.Context, email string) (booking.User, error) {
	var u booking.User
	err := r.pool.QueryRow(ctx, `
		SELECT user_id::text, email, COALESCE(name, split_part(email, '@', 1))
		FROM users
		WHERE email = $1
	`, email).Scan(&u.ID, &u.Email, &u.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return booking.User{}, booking.ErrNotFound
		}
		return booking.User{}, err
	}
	return u, nil
}

// TokenByParticipant returns the participant's stored OAuth token or
// availability.ErrNoCredentials when no calendar is linked.
func (r *UserRepository) TokenByParticipant(ctx context.Context, participantID string) (*oauth2.Token, error) {
	var accessToken, refreshToken string
	var expiry *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(access_token, ''), COALESCE(refresh_token, ''), expiry
		FROM calendar_credentials
		WHERE user_id::text = $1
	`, participantID).Scan(&accessToken, &refreshToken, &expiry)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, availability.ErrNoCredentials
		}
		return nil, err
	}
	if accessToken == "" && refreshToken == "" {
		return nil, availability.ErrNoCredentials
	}

	token := &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
	}
	if expiry != nil {
		token.Expiry = *expiry
	}
	return token, nil
}

// SaveToken stores or refreshes a participant's calendar credentials.
func (r *UserRepository) SaveToken(ctx context.Context, participantID string, token *oauth2.Token) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO calendar_credentials (user_id, access_token, refresh_token, expiry)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id)
		DO UPDATE SET access_token = EXCLUDED.access_token,
		              refresh_token = EXCLUDED.refresh_token,
		              expiry = EXCLUDED.expiry,
		              updated_at = now()
	`, participantID, token.AccessToken, token.RefreshToken, token.Expiry)
	return err
}
