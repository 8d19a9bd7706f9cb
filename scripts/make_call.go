package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/harunnryd/siprtc-bridge/pkg/bridge"
	"github.com/harunnryd/siprtc-bridge/pkg/transports/mediastream"
)

func main() {
	configPath := flag.String("config", "configs/bridge.yaml", "")
	from := flag.String("from", "", "")
	to := flag.String("to", "", "")
	voiceURL := flag.String("voice_url", "", "")
	provider := flag.String("provider", "", "")
	sendDigits := flag.String("send_digits", "", "")
	flag.Parse()
	if *from == "" || *to == "" {
		fmt.Println("usage: make_call -from=+123 -to=+456 [-provider=deepgram] [-config=...]")
		os.Exit(1)
	}
	cfg, err := bridge.LoadConfig(*configPath)
	if err != nil {
		fmt.Println("config error:", err)
		os.Exit(1)
	}
	if *voiceURL == "" && cfg.Server.PublicURL == "" {
		fmt.Println("server.public_url is empty")
		os.Exit(1)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	dialer := mediastream.NewDialer(cfg.Server)
	callSID, err := dialer.Dial(ctx, *to, *from, *voiceURL, mediastream.DialOptions{
		Provider:   *provider,
		SendDigits: *sendDigits,
	})
	if err != nil {
		fmt.Println("call error:", err)
		os.Exit(1)
	}
	fmt.Println("call_sid:", callSID)
}
