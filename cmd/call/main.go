package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"mpcomm/internal/audio"
	"mpcomm/internal/core/domain"
	"mpcomm/internal/core/services"
	signalws "mpcomm/internal/infrastructure/signal"
	webrtcinfra "mpcomm/internal/infrastructure/webrtc"
	"mpcomm/pkg/config"
	"mpcomm/pkg/logger"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Command line call endpoint. Registers a contact against the signal server,
// then either dials a peer or waits for an incoming call and answers it.
func main() {
	serverURL := flag.String("server", "http://localhost:8081", "signal server base URL")
	contactID := flag.String("contact", "", "contact ID to register (generated when empty)")
	name := flag.String("name", "caller", "display name")
	dial := flag.String("dial", "", "contact ID to call; wait for calls when empty")
	group := flag.Bool("group", false, "dial as a group call")
	video := flag.Bool("video", false, "negotiate video alongside audio")
	flag.Parse()

	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error
	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	token, selfID, err := issueToken(*serverURL, *contactID, *name)
	if err != nil {
		log.Fatalw("failed to obtain token", "error", err)
	}
	log.Infow("registered", "contact_id", selfID)

	var iceServers []webrtc.ICEServer
	for _, s := range cfg.WebRTC.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	if len(iceServers) == 0 {
		iceServers = []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		}
	}

	webrtcConfig := webrtcinfra.Config{ICEServers: iceServers}
	webrtcConfig.PortRange.Min = cfg.WebRTC.PortRange.Min
	webrtcConfig.PortRange.Max = cfg.WebRTC.PortRange.Max
	devices := webrtcinfra.NewFactory(webrtcConfig, log)

	client := signalws.NewClient(signalws.DefaultClientConfig(wsURL(*serverURL), token), log)

	sessionCfg := services.SessionConfig{
		RingingTimeout: cfg.Call.RingingTimeout,
		AnswerTimeout:  cfg.Call.AnswerTimeout,
		Audio: audio.WorkerConfig{
			Meter: audio.MeterConfig{
				ClipLevel:       cfg.Audio.ClipLevel,
				SmoothingFactor: cfg.Audio.SmoothingFactor,
				ClipLag:         cfg.Audio.ClipLag,
				SampleRate:      cfg.Audio.SampleRate,
			},
			ReportLag: cfg.Audio.ReportLag,
		},
	}

	self := domain.NewFieldEndpoint(domain.ContactID(selfID), domain.Endpoint{Name: *name})
	session := services.NewCallSession(self, client, devices, sessionCfg, nil, log)

	constraint := domain.MediaConstraint{WantsAudio: true, WantsVideo: *video}
	subscribeEvents(session, constraint, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		log.Fatalw("failed to connect to signal server", "error", err)
	}
	defer client.Close()

	if *dial != "" {
		target := domain.NewFieldEndpoint(domain.ContactID(*dial), domain.Endpoint{})
		if err := session.MakeCall(ctx, target, *group, constraint); err != nil {
			log.Fatalw("failed to start call", "error", err)
		}
	} else {
		log.Info("waiting for incoming calls")
	}

	go reportBandwidth(ctx, session, cfg.Call.StatsInterval, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	if session.State() != domain.StateIdle {
		hangupCtx, hangupCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer hangupCancel()
		if err := session.HangupCall(hangupCtx); err != nil {
			log.Errorw("hangup failed", "error", err)
		}
	}
	log.Info("stopped")
}

func subscribeEvents(session *services.CallSession, constraint domain.MediaConstraint, log *zap.SugaredLogger) {
	session.On(domain.EventNewCall, func(evt domain.Event) {
		call := evt.(domain.NewCallEvent)
		log.Infow("incoming call, answering", "call_id", call.CallID, "from", call.Caller.ContactID)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := session.AnswerCall(ctx, constraint); err != nil {
				log.Errorw("answer failed", "error", err)
			}
		}()
	})
	session.On(domain.EventRinging, func(domain.Event) {
		log.Infow("ringing")
	})
	session.On(domain.EventConnected, func(evt domain.Event) {
		connected := evt.(domain.ConnectedEvent)
		log.Infow("connected", "peer", connected.Peer.Name)
	})
	session.On(domain.EventArrived, func(evt domain.Event) {
		arrived := evt.(domain.ArrivedEvent)
		log.Infow("member arrived", "contact_id", arrived.Endpoint.ContactID)
	})
	session.On(domain.EventLeft, func(evt domain.Event) {
		left := evt.(domain.LeftEvent)
		log.Infow("member left", "contact_id", left.Endpoint.ContactID)
	})
	session.On(domain.EventMicrophoneVolume, func(evt domain.Event) {
		volume := evt.(domain.MicrophoneVolumeEvent)
		if volume.Sample.Clipping {
			log.Infow("microphone clipping", "contact_id", volume.Sample.ContactID)
		}
	})
	session.On(domain.EventBusy, func(domain.Event) {
		log.Infow("remote party is busy")
	})
	session.On(domain.EventTimeout, func(domain.Event) {
		log.Infow("call timed out")
	})
	session.On(domain.EventBye, func(domain.Event) {
		log.Infow("call ended by remote party")
	})
	session.On(domain.EventFailed, func(evt domain.Event) {
		failed := evt.(domain.FailedEvent)
		log.Errorw("call failed", "code", failed.Code, "error", failed.Err)
	})
}

func reportBandwidth(ctx context.Context, session *services.CallSession, interval time.Duration, log *zap.SugaredLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if session.State() != domain.StateConnected {
				continue
			}
			session.SnapshootStatsReport(
				func(contactID domain.ContactID, stats domain.MediaStats) {
					log.Infow("outbound",
						"contact_id", contactID,
						"audio_bps", stats.AudioBits,
						"video_bps", stats.VideoBits,
					)
				},
				func(contactID domain.ContactID, stats domain.MediaStats) {
					log.Infow("inbound",
						"contact_id", contactID,
						"audio_bps", stats.AudioBits,
						"video_bps", stats.VideoBits,
						"packet_loss", stats.PacketLoss,
					)
				},
			)
		}
	}
}

func issueToken(serverURL, contactID, name string) (token, selfID string, err error) {
	body, err := json.Marshal(map[string]string{
		"contact_id": contactID,
		"name":       name,
	})
	if err != nil {
		return "", "", err
	}

	resp, err := http.Post(serverURL+"/api/v1/auth/token", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", "", fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var result struct {
		ContactID string `json:"contact_id"`
		Token     string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", "", err
	}
	return result.Token, result.ContactID, nil
}

func wsURL(serverURL string) string {
	url := strings.Replace(serverURL, "https://", "wss://", 1)
	url = strings.Replace(url, "http://", "ws://", 1)
	return url + "/ws"
}
