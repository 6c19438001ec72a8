package camera

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/liberrors"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func TestDefaultTrackOptions(t *testing.T) {
	o := DefaultTrackOptions()
	require.Equal(t, PositionBack, o.Position)
	require.Equal(t, 1280, o.Width)
	require.Equal(t, 720, o.Height)
	require.Equal(t, 30.0, o.FPS)
}

func TestFullURL(t *testing.T) {
	c := RTSPConfig{URL: "rtsp://192.168.1.10/Streaming/Channels/101", Username: "admin", Password: "p@ss"}
	u, err := c.FullURL()
	require.NoError(t, err)
	require.Equal(t, "192.168.1.10:554", u.Host)
	require.Equal(t, "/Streaming/Channels/101", u.Path)
	require.NotNil(t, u.User)
	require.Equal(t, "admin", u.User.Username())
	require.Equal(t, "192.168.1.10:554/Streaming/Channels/101", redact(u))

	c = RTSPConfig{URL: "rtsp://cam:8554/live"}
	u, err = c.FullURL()
	require.NoError(t, err)
	require.Equal(t, "cam:8554", u.Host)
	require.Nil(t, u.User)

	c = RTSPConfig{URL: "http://cam/live"}
	_, err = c.FullURL()
	require.Error(t, err)
}

func TestIsAuthError(t *testing.T) {
	require.True(t, isAuthError(liberrors.ErrClientBadStatusCode{Code: base.StatusUnauthorized, Message: "Unauthorized"}))
	require.True(t, isAuthError(liberrors.ErrClientBadStatusCode{Code: base.StatusForbidden}))
	require.False(t, isAuthError(liberrors.ErrClientBadStatusCode{Code: base.StatusNotFound}))
	require.False(t, isAuthError(errors.New("connection refused")))
}

func TestRequestAccessUnreachable(t *testing.T) {
	p := NewRTSPProvider(logs.NewTestingLog(t), RTSPConfig{URL: "rtsp://127.0.0.1:1/none"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ok, err := p.RequestAccess(ctx)
	require.Error(t, err)
	require.False(t, ok)
	auth, err := p.Authorization(ctx)
	require.NoError(t, err)
	require.Equal(t, AuthorizationNotDetermined, auth)

	_, err = p.CreateTrack(ctx, DefaultTrackOptions())
	require.Error(t, err)
}

func TestSinks(t *testing.T) {
	s := Sinks{}
	a := make(chan AccessUnit, 1)
	b := make(chan AccessUnit, 2)
	s.Add(a)
	s.Add(a)
	s.Add(b)
	require.Equal(t, 2, s.Len())

	s.Send(AccessUnit{IDR: true})
	s.Send(AccessUnit{})
	require.Equal(t, int64(1), s.Dropped())
	require.Equal(t, 1, len(a))
	require.Equal(t, 2, len(b))
	require.True(t, (<-a).IDR)

	s.Remove(a)
	s.Send(AccessUnit{})
	require.Equal(t, 0, len(a))
	require.Equal(t, int64(2), s.Dropped())
}
