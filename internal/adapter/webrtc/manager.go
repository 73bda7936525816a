// Package webrtc publishes the presenter camera to a browser viewer.
package webrtc

import (
	"context"
	"errors"
	"sync"

	"live-presenter/internal/domain"

	"github.com/golang/glog"
	"github.com/pion/webrtc/v4"
)

// Manager negotiates peer connections for the live view. It keeps a single
// viewer; a new offer replaces the previous connection.
type Manager struct {
	api    *webrtc.API
	config webrtc.Configuration

	mu sync.Mutex
	pc *webrtc.PeerConnection
}

func NewManager(iceServers []string) *Manager {
	settingEngine := webrtc.SettingEngine{}
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))

	var config webrtc.Configuration
	if len(iceServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return &Manager{api: api, config: config}
}

// Negotiate answers a browser offer and returns a publisher bound to the
// new connection's video track.
func (m *Manager) Negotiate(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, domain.StreamPublisher, error) {
	const op = "negotiate viewer"

	track, err := NewVideoTrack()
	if err != nil {
		return nil, nil, domain.NewError(domain.KindTransport, op, err)
	}
	pc, err := m.api.NewPeerConnection(m.config)
	if err != nil {
		return nil, nil, domain.NewError(domain.KindTransport, op, err)
	}

	answer, err := m.answer(ctx, pc, track, offer)
	if err != nil {
		_ = pc.Close()
		return nil, nil, err
	}

	m.mu.Lock()
	prev := m.pc
	m.pc = pc
	m.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
	return answer, NewPionPublisher(track, nil), nil
}

func (m *Manager) answer(ctx context.Context, pc *webrtc.PeerConnection, track webrtc.TrackLocal, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	const op = "negotiate viewer"

	sender, err := pc.AddTrack(track)
	if err != nil {
		return nil, domain.NewError(domain.KindTransport, op, err)
	}
	// RTCP must be drained for interceptors to run.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		glog.Infof("webrtc: viewer connection %s", s)
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		return nil, domain.NewError(domain.KindState, op, err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return nil, domain.NewError(domain.KindState, op, err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return nil, domain.NewError(domain.KindTransport, op, err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return nil, domain.NewError(domain.KindTransport, op, ctx.Err())
	}

	local := pc.LocalDescription()
	if local == nil {
		return nil, domain.NewError(domain.KindTransport, op, errors.New("no local description"))
	}
	return local, nil
}

// Close tears down the current viewer connection.
func (m *Manager) Close() error {
	m.mu.Lock()
	pc := m.pc
	m.pc = nil
	m.mu.Unlock()
	if pc == nil {
		return nil
	}
	return pc.Close()
}
