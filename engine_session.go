package identity

import (
	"context"

	"github.com/clinicore/identity/internal/flows"
)

// Refresh issues a new access token for the stored refresh session. With
// JWT.RotateRefreshOnUse the refresh token is replaced as well.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	return flows.RunRefresh(ctx, refreshToken, e.sessionFlowDeps())
}

// Logout ends the session bound to refreshToken. Reusing the token after
// logout yields ErrInvalidToken.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	return flows.RunLogout(ctx, refreshToken, e.sessionFlowDeps())
}

func (e *Engine) sessionFlowDeps() flows.SessionDeps {
	deps := flows.SessionDeps{
		Base:   e.baseDeps(),
		Hasher: e.hasherDep(),
		Tokens: e.tokensDep(),
		Metrics: flows.SessionMetrics{
			RefreshSuccess: int(MetricRefreshSuccess),
			RefreshFailure: int(MetricRefreshFailure),
			Logout:         int(MetricLogout),
		},
	}
	if e != nil {
		deps.RotateRefreshOnUse = e.config.JWT.RotateRefreshOnUse
	}
	return deps
}
