package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/desertthunder/auxfm/internal/coordinator"
	"github.com/desertthunder/auxfm/internal/shared"
)

// Sessions is the coordinator surface the HTTP layer drives. Handlers are
// thin glue: no session state machine logic lives here, only request
// decoding, policy that belongs at the edge (the vote-skip threshold), and
// error-to-status mapping.
type Sessions interface {
	Create(ctx context.Context, authCode string) (*coordinator.LoginResult, error)
	Reactivate(ctx context.Context, passcode, memberID, authCode string) (*coordinator.LoginResult, error)
	Join(ctx context.Context, passcode, memberID string) (*coordinator.JoinResult, error)
	Logout(ctx context.Context, passcode, memberID string) error
	AddTrack(ctx context.Context, passcode, memberID, trackURI string) (*coordinator.View, error)
	Vote(ctx context.Context, passcode, memberID string) (int, error)
	Skip(ctx context.Context, passcode, memberID string) (*coordinator.View, error)
	AdvanceToNext(ctx context.Context, passcode string) (*coordinator.View, error)
	SetDevice(ctx context.Context, passcode, memberID, deviceID string) (*coordinator.View, error)
	SyncWithRemote(ctx context.Context, passcode, memberID string) (*coordinator.View, error)
}

const (
	stateCookie    = "aux_auth_state"
	passcodeCookie = "aux_auth_passcode"
	memberCookie   = "aux_auth_member"
)

type joinRequest struct {
	MemberID string `json:"member_id"`
}

type queueRequest struct {
	TrackURI string `json:"track_uri"`
}

type deviceRequest struct {
	DeviceID string `json:"device_id"`
}

type sessionResponse struct {
	View        *coordinator.View `json:"view"`
	MemberID    string            `json:"member_id,omitempty"`
	Token       string            `json:"token,omitempty"`
	IsOwner     bool              `json:"is_owner,omitempty"`
	Reactivated bool              `json:"reactivated,omitempty"`
}

type voteResponse struct {
	Votes   int               `json:"votes"`
	Skipped bool              `json:"skipped"`
	View    *coordinator.View `json:"view,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleLogin redirects to the provider's authorize URL. A passcode and
// member_id in the query mark the login as a reactivation of an existing
// session; they ride along in short-lived cookies until the callback.
func (s *Server) handleLogin(c echo.Context) error {
	state := shared.GenerateID()
	s.setFlowCookie(c, stateCookie, state)

	if passcode := c.QueryParam("passcode"); passcode != "" {
		s.setFlowCookie(c, passcodeCookie, passcode)
		s.setFlowCookie(c, memberCookie, c.QueryParam("member_id"))
	}

	return c.Redirect(http.StatusTemporaryRedirect, s.player.AuthURL(state))
}

func (s *Server) handleCallback(c echo.Context) error {
	if errParam := c.QueryParam("error"); errParam != "" {
		return echo.NewHTTPError(http.StatusBadRequest, "authorization denied: "+errParam)
	}
	code := c.QueryParam("code")
	if code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing authorization code")
	}

	state, err := c.Cookie(stateCookie)
	if err != nil || state.Value == "" || state.Value != c.QueryParam("state") {
		return echo.NewHTTPError(http.StatusBadRequest, "state mismatch")
	}
	s.clearFlowCookie(c, stateCookie)

	ctx := c.Request().Context()
	var result *coordinator.LoginResult

	if passcode, cookieErr := c.Cookie(passcodeCookie); cookieErr == nil && passcode.Value != "" {
		member := ""
		if m, mErr := c.Cookie(memberCookie); mErr == nil {
			member = m.Value
		}
		s.clearFlowCookie(c, passcodeCookie)
		s.clearFlowCookie(c, memberCookie)
		result, err = s.sessions.Reactivate(ctx, passcode.Value, member, code)
	} else {
		result, err = s.sessions.Create(ctx, code)
	}
	if err != nil {
		return httpError(err)
	}

	token, err := IssueToken(s.config.Server.JWTSecret, result.View.Passcode, result.MemberID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, sessionResponse{
		View:        result.View,
		MemberID:    result.MemberID,
		Token:       token,
		IsOwner:     true,
		Reactivated: result.Reactivated,
	})
}

func (s *Server) handleJoin(c echo.Context) error {
	var req joinRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	passcode := c.Param("passcode")
	result, err := s.sessions.Join(c.Request().Context(), passcode, req.MemberID)
	if err != nil {
		// an inactive session still tells the caller whether they are the
		// owner, so the client can offer a re-login instead of a dead end
		if errors.Is(err, shared.ErrInactiveSession) && result != nil {
			return c.JSON(http.StatusGone, sessionResponse{MemberID: result.MemberID, IsOwner: result.IsOwner})
		}
		return httpError(err)
	}

	token, err := IssueToken(s.config.Server.JWTSecret, passcode, result.MemberID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, sessionResponse{
		View:     result.View,
		MemberID: result.MemberID,
		Token:    token,
		IsOwner:  result.IsOwner,
	})
}

func (s *Server) handleStatus(c echo.Context) error {
	view, err := s.sessions.SyncWithRemote(c.Request().Context(), c.Param("passcode"), memberID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sessionResponse{View: view})
}

func (s *Server) handleQueue(c echo.Context) error {
	var req queueRequest
	if err := c.Bind(&req); err != nil || req.TrackURI == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "track_uri is required")
	}

	view, err := s.sessions.AddTrack(c.Request().Context(), c.Param("passcode"), memberID(c), req.TrackURI)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sessionResponse{View: view})
}

// handleVote toggles the caller's vote. When the count reaches the
// configured threshold the track is skipped; the threshold is edge policy,
// the coordinator only counts.
func (s *Server) handleVote(c echo.Context) error {
	ctx := c.Request().Context()
	passcode := c.Param("passcode")

	count, err := s.sessions.Vote(ctx, passcode, memberID(c))
	if err != nil {
		return httpError(err)
	}

	resp := voteResponse{Votes: count}
	if threshold := s.config.Radio.SkipVotes; threshold > 0 && count >= threshold {
		view, err := s.sessions.AdvanceToNext(ctx, passcode)
		if err != nil {
			return httpError(err)
		}
		resp.Skipped = true
		resp.View = view
		s.logger.Info("vote threshold reached, skipped", "passcode", passcode, "votes", count)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSkip(c echo.Context) error {
	view, err := s.sessions.Skip(c.Request().Context(), c.Param("passcode"), memberID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sessionResponse{View: view})
}

func (s *Server) handleDevice(c echo.Context) error {
	var req deviceRequest
	if err := c.Bind(&req); err != nil || req.DeviceID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "device_id is required")
	}

	view, err := s.sessions.SetDevice(c.Request().Context(), c.Param("passcode"), memberID(c), req.DeviceID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sessionResponse{View: view})
}

func (s *Server) handleLogout(c echo.Context) error {
	if err := s.sessions.Logout(c.Request().Context(), c.Param("passcode"), memberID(c)); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) setFlowCookie(c echo.Context, name, value string) {
	c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearFlowCookie(c echo.Context, name string) {
	c.SetCookie(&http.Cookie{Name: name, Path: "/", MaxAge: -1, HttpOnly: true})
}

// httpError maps domain error kinds onto HTTP statuses. Unknown errors pass
// through to echo's default 500 handling.
func httpError(err error) error {
	switch {
	case errors.Is(err, shared.ErrSessionNotFound),
		errors.Is(err, shared.ErrTrackNotFound),
		errors.Is(err, shared.ErrDeviceNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, shared.ErrNotOwner),
		errors.Is(err, shared.ErrUnauthorized):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, shared.ErrInactiveSession):
		return echo.NewHTTPError(http.StatusGone, err.Error())
	case errors.Is(err, shared.ErrRefreshFailed):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, shared.ErrServiceUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case errors.Is(err, shared.ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return err
	}
}
