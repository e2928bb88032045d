package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/crisjonblvx/blvx-app-sub000/internal/config"
	"github.com/crisjonblvx/blvx-app-sub000/internal/roomapi"
	"github.com/crisjonblvx/blvx-app-sub000/internal/rtc"
	"github.com/crisjonblvx/blvx-app-sub000/internal/signaling"
)

var (
	flagSignalURL      string
	flagRoomAPIURL     string
	flagPeerID         string
	flagDisplayName    string
	flagRole           string
	flagMic            bool
	flagStunURLs       string
	flagTurnURLs       string
	flagTurnUsername   string
	flagTurnCredential string
	flagConnectTimeout time.Duration
	flagVerbose        bool
)

var joinCmd = &cobra.Command{
	Use:   "join <room-id>",
	Short: "Join a room and stay connected until interrupted",
	Long: `Join a room as a speaker or listener.

While connected:
  m       toggle the microphone (speakers only)
  p       print the current participants
  q       leave the room and exit

Examples:
  stoop join stoop-42 --role listener
  stoop join stoop-42 --role speaker --mic --name "Cris"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return joinRoom(args[0])
	},
}

func init() {
	joinCmd.Flags().StringVar(&flagSignalURL, "signal-url", os.Getenv(config.EnvVarSignalURL), "relay websocket endpoint, e.g. ws://localhost:8090/signal (env "+config.EnvVarSignalURL+")")
	joinCmd.Flags().StringVar(&flagRoomAPIURL, "room-api-url", os.Getenv(config.EnvVarRoomAPIURL), "room membership API base URL; optional (env "+config.EnvVarRoomAPIURL+")")
	joinCmd.Flags().StringVar(&flagPeerID, "peer-id", "", "participant id; generated when empty")
	joinCmd.Flags().StringVar(&flagDisplayName, "name", "", "display name shown to other participants")
	joinCmd.Flags().StringVar(&flagRole, "role", string(signaling.RoleListener), "room role: speaker or listener")
	joinCmd.Flags().BoolVar(&flagMic, "mic", false, "activate the microphone on join (speakers only)")
	joinCmd.Flags().StringVar(&flagStunURLs, "stun-urls", "", "comma-separated STUN URLs")
	joinCmd.Flags().StringVar(&flagTurnURLs, "turn-urls", "", "comma-separated TURN URLs")
	joinCmd.Flags().StringVar(&flagTurnUsername, "turn-username", "", "TURN username")
	joinCmd.Flags().StringVar(&flagTurnCredential, "turn-credential", "", "TURN credential")
	joinCmd.Flags().DurationVar(&flagConnectTimeout, "connect-timeout", config.DefaultConnectTimeout, "max time a peer connection may stay pending")
	joinCmd.Flags().BoolVar(&flagVerbose, "verbose", false, "debug logging")
	rootCmd.AddCommand(joinCmd)
}

func joinRoom(roomID string) error {
	if flagSignalURL == "" {
		return fmt.Errorf("--signal-url or %s is required", config.EnvVarSignalURL)
	}
	role, err := signaling.ParseRole(flagRole)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	iceServers, err := config.ParseICEServersFromConvenienceEnv(flagStunURLs, flagTurnURLs, flagTurnUsername, flagTurnCredential)
	if err != nil {
		return err
	}
	if len(iceServers) == 0 {
		iceServers = []webrtc.ICEServer{{URLs: []string{config.DefaultSTUNURL}}}
	}

	factory, err := rtc.NewPionFactory(rtc.PionFactoryConfig{
		ICEServers: iceServers,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	peerID := flagPeerID
	if peerID == "" {
		peerID = uuid.NewString()
	}

	var api *roomapi.Client
	if flagRoomAPIURL != "" {
		api = roomapi.NewClient(flagRoomAPIURL)
	}

	sessionEnded := make(chan error, 1)
	client, err := rtc.NewClient(rtc.ClientOptions{
		SignalURL: flagSignalURL,
		Self: signaling.Participant{
			ID:          peerID,
			DisplayName: flagDisplayName,
			Role:        role,
		},
		Factory:            factory,
		Capture:            rtc.SyntheticCapture{},
		Playback:           rtc.DiscardPlayback{},
		RoomAPI:            api,
		NegotiationTimeout: flagConnectTimeout,
		MicOnJoin:          flagMic,
		Logger:             logger,
		OnSessionClosed: func(err error) {
			select {
			case sessionEnded <- err:
			default:
			}
		},
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.Connect(ctx, roomID); err != nil {
		return err
	}
	defer client.Disconnect()

	fmt.Printf("joined %s as %s (%s)\n", roomID, peerID, role)
	if role == signaling.RoleSpeaker {
		fmt.Println("press m+enter to toggle your mic, p+enter for participants, q+enter to leave")
	} else {
		fmt.Println("press p+enter for participants, q+enter to leave")
	}

	commands := readCommands()
	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nleaving")
			return nil
		case err := <-sessionEnded:
			if err != nil {
				return fmt.Errorf("connection to the room was lost: %w", err)
			}
			return nil
		case cmd, ok := <-commands:
			if !ok {
				return nil
			}
			switch cmd {
			case "m":
				if err := client.ToggleMic(ctx); err != nil {
					if me, ok := rtc.AsMicError(err); ok {
						fmt.Println(micErrorMessage(me))
						continue
					}
					return err
				}
				if client.MicActive() {
					fmt.Println("mic on")
				} else {
					fmt.Println("mic muted")
				}
			case "p":
				printPeers(client)
			case "q":
				fmt.Println("leaving")
				return nil
			default:
				fmt.Printf("unknown command %q\n", cmd)
			}
		}
	}
}

func readCommands() <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" {
				out <- strings.ToLower(line)
			}
		}
	}()
	return out
}

func printPeers(client *rtc.Client) {
	peers := client.Peers()
	if len(peers) == 0 {
		fmt.Println("nobody else is here yet")
		return
	}
	for _, p := range peers {
		name := p.Participant.DisplayName
		if name == "" {
			name = p.Participant.ID
		}
		flags := ""
		if p.Muted {
			flags += " muted"
		}
		if p.HasRemoteAudio {
			flags += " audio"
		}
		fmt.Printf("  %-24s %-9s %s%s\n", name, p.Participant.Role, p.State, flags)
	}
}

// micErrorMessage maps each activation failure to an actionable message.
func micErrorMessage(e *rtc.MicError) string {
	switch e.Kind {
	case rtc.MicNotAuthorized:
		return "only speakers can unmute; rejoin with --role speaker"
	case rtc.MicPermissionDenied:
		return "microphone access was denied; check your OS permission settings"
	case rtc.MicDeviceNotFound:
		return "no microphone was found; plug one in and try again"
	case rtc.MicDeviceBusy:
		return "the microphone is in use by another application"
	case rtc.MicPlatformUnsupported:
		return "audio capture is not supported on this platform"
	default:
		return e.Error()
	}
}
