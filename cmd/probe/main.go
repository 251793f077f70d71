package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"market-stream/src/logger"
	"market-stream/src/models"

	"github.com/gorilla/websocket"
)

// probe subscribes to one key, applies the snapshot and prints the stream
// the way a chart client would see it.
func main() {
	url := flag.String("url", "ws://127.0.0.1:8080/ws", "streaming endpoint")
	exchange := flag.String("exchange", "simulated", "exchange id")
	symbol := flag.String("symbol", "BTCUSDT", "symbol")
	timeframe := flag.String("timeframe", "1m", "candle timeframe")
	indicators := flag.String("indicators", "sma:20,rsi:14", "comma separated indicator specs")
	token := flag.String("token", "", "session token, if the server requires one")
	frames := flag.Int("frames", 0, "stop after this many applied frames (0 runs until interrupted)")
	flag.Parse()

	logger.Configure("info", "text")
	log := logger.NewLogger(nil, "Probe")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	header := http.Header{}
	if *token != "" {
		header.Set("Authorization", "Bearer "+*token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, *url, header)
	if err != nil {
		fmt.Printf("Error connecting to %s: %v\n", *url, err)
		os.Exit(1)
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}()

	cmd := models.MSubscribeCommand{Exchange: *exchange, Symbol: *symbol, Timeframe: *timeframe}
	if *indicators != "" {
		cmd.Indicators = strings.Split(*indicators, ",")
	}
	if err := conn.WriteJSON(cmd); err != nil {
		log.Error("Subscribe failed: %v", err)
		return
	}

	t := newTracker()
	applied := 0
	for *frames == 0 || applied < *frames {
		var f inFrame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() == nil {
				log.Error("Read failed: %v", err)
			}
			break
		}

		switch f.Type {
		case models.FrameAck:
			log.Info("Subscribed: %s", f.Payload)
			continue
		case models.FrameError:
			log.Error("Server error: %s", f.Payload)
			return
		}

		ok, resubscribe, err := t.apply(f)
		if err != nil {
			log.Warning("Bad %s frame: %v", f.Type, err)
			continue
		}
		if resubscribe {
			log.Warning("Resync requested for %s, resubscribing", f.Key)
			if err := conn.WriteJSON(cmd); err != nil {
				log.Error("Resubscribe failed: %v", err)
				return
			}
			continue
		}
		if !ok {
			continue
		}
		applied++

		switch f.Type {
		case models.FrameSnapshot:
			log.Info("Snapshot seq=%d candles=%d", t.seq, len(t.candles))
		default:
			log.Info("%-9s seq=%d %s", f.Type, f.Seq, f.Payload)
		}
	}
	log.Info("Done: %d frames applied, %d duplicates skipped", applied, t.skipped)
}
