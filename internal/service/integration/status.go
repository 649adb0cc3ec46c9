package integration

import (
	"time"

	"github.com/AI-codelabs/leadloopr-integrations/internal/adapter/provider"
	"github.com/AI-codelabs/leadloopr-integrations/internal/domain"
)

// deriveStatus maps a stored credential to the UI-facing connection state.
// The derivation is pure: a stale token with a usable refresh path is still
// CONNECTED, because the next dispatch refreshes it lazily.
func (s *Service) deriveStatus(cred domain.Credential, adapter provider.Adapter) domain.StatusReport {
	report := domain.StatusReport{
		Provider:    cred.Provider,
		ConnectedAt: timePtr(cred.CreatedAt),
		Message:     cred.LastError,
	}

	switch {
	case !adapter.SettingsComplete(cred):
		report.Status = domain.StatusNeedsConfiguration
	case !cred.IsActive && cred.LastError != "":
		report.Status = domain.StatusError
	case !cred.IsActive:
		report.Status = domain.StatusInactive
	case cred.Stale(s.now(), s.skew) && !adapter.CanRefresh(cred):
		report.Status = domain.StatusExpired
	default:
		report.Status = domain.StatusConnected
		report.Connected = true
	}
	return report
}

func timePtr(t time.Time) *time.Time {
	return &t
}
