package oauth

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	refreshCheckInterval  = 5 * time.Minute
	refreshExpiryBuffer   = 10 * time.Minute
	maxConsecutiveFailure = 5
)

// RunRefreshLoop sweeps for oauth_tokens credentials whose access token
// expires within refreshExpiryBuffer and refreshes each one, committing
// after every success so one credential's failure never loses another's
// progress. Ported from the original's token_refresh service: on five
// consecutive sweep failures it logs at error level and resets the
// counter, but never exits — the loop is meant to run for the life of
// the process. Call this from a goroutine started at server startup; it
// returns when ctx is cancelled.
func (s *Service) RunRefreshLoop(ctx context.Context) {
	ticker := time.NewTicker(refreshCheckInterval)
	defer ticker.Stop()

	consecutiveFailures := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sweepExpiringTokens(ctx); err != nil {
				consecutiveFailures++
				log.Error().Err(err).Int("consecutive_failures", consecutiveFailures).Msg("oauth token refresh sweep failed")
				if consecutiveFailures >= maxConsecutiveFailure {
					log.Error().Msg("oauth token refresh sweep failed 5 times in a row, resetting and continuing")
					consecutiveFailures = 0
				}
				continue
			}
			consecutiveFailures = 0
		}
	}
}

func (s *Service) sweepExpiringTokens(ctx context.Context) error {
	cutoff := time.Now().Add(refreshExpiryBuffer)
	expiring, err := s.store.ListExpiringOAuthCredentials(ctx, cutoff)
	if err != nil {
		return err
	}

	for i := range expiring {
		cred := expiring[i]
		if _, err := s.RefreshToken(ctx, &cred); err != nil {
			log.Warn().Err(err).Str("credential_id", cred.ID).Msg("failed to refresh oauth token")
			continue
		}
		log.Info().Str("credential_id", cred.ID).Msg("refreshed oauth access token")
	}
	return nil
}
