package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/malikkhubiev/qdrant/internal/audio"
)

const loadtestRate = 16000

func init() {
	f := loadtestCmd.Flags()
	f.String("relay", "ws://localhost:8000", "relay WebSocket base URL")
	f.Int("concurrency", 10, "number of concurrent callers")
	f.Duration("duration", 30*time.Second, "test duration")
	f.String("audio-dir", "", "directory with .wav utterances; synthetic audio when empty")
	f.String("text", "", "send this text as a final recognition instead of audio")
	f.Duration("reply-timeout", 30*time.Second, "how long to wait for the agent reply")
	rootCmd.AddCommand(loadtestCmd)
}

var loadtestCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "Stream utterances to a relay over WebSocket and report reply latency",
	Args:  cobra.NoArgs,
	RunE:  runLoadtest,
}

type callResult struct {
	success bool
	replyMs float64
	err     string
}

func runLoadtest(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	relay, _ := f.GetString("relay")
	concurrency, _ := f.GetInt("concurrency")
	duration, _ := f.GetDuration("duration")
	audioDir, _ := f.GetString("audio-dir")
	text, _ := f.GetString("text")
	replyTimeout, _ := f.GetDuration("reply-timeout")

	var utterances [][]byte
	if audioDir != "" && text == "" {
		var err error
		utterances, err = loadUtterances(audioDir)
		if err != nil {
			return err
		}
	}
	if len(utterances) == 0 {
		utterances = [][]byte{syntheticSpeech(2 * time.Second)}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Load test: %d concurrent calls for %s against %s\n\n", concurrency, duration, relay)

	var (
		mu      sync.Mutex
		results []callResult
		wg      sync.WaitGroup
	)
	deadline := time.Now().Add(duration)
	for range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) {
				r := runCall(relay, text, utterances[rand.Intn(len(utterances))], replyTimeout)
				mu.Lock()
				results = append(results, r)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	printSummary(out, results)
	return nil
}

// runCall opens one browser-style stream, speaks a single utterance and waits
// for the agent's reply.
func runCall(relay, text string, utterance []byte, replyTimeout time.Duration) callResult {
	u, err := streamURL(relay, uuid.NewString())
	if err != nil {
		return callResult{err: err.Error()}
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		return callResult{err: fmt.Sprintf("dial: %v", err)}
	}
	defer conn.Close()

	if text != "" {
		frame, _ := json.Marshal(map[string]string{"type": "final_recognition", "text": text})
		if err = conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return callResult{err: fmt.Sprintf("send text: %v", err)}
		}
	} else {
		const chunk = loadtestRate / 50 * 2 // 20ms of PCM16
		for i := 0; i < len(utterance); i += chunk {
			end := min(i+chunk, len(utterance))
			if err = conn.WriteMessage(websocket.BinaryMessage, utterance[i:end]); err != nil {
				return callResult{err: fmt.Sprintf("send audio: %v", err)}
			}
			time.Sleep(20 * time.Millisecond)
		}
	}
	spoke := time.Now()

	conn.SetReadDeadline(spoke.Add(replyTimeout))
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return callResult{err: fmt.Sprintf("read: %v", err)}
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var m struct {
			Type     string `json:"type"`
			AudioURL string `json:"audio_url"`
		}
		if json.Unmarshal(data, &m) != nil || m.Type != "agent_message" {
			continue
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return callResult{success: true, replyMs: float64(time.Since(spoke).Milliseconds())}
	}
}

func streamURL(relay, callID string) (string, error) {
	u, err := url.Parse(strings.TrimRight(relay, "/"))
	if err != nil {
		return "", fmt.Errorf("relay url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path += "/ws/" + callID
	u.RawQuery = url.Values{"codec": {"pcm"}, "sample_rate": {fmt.Sprint(loadtestRate)}}.Encode()
	return u.String(), nil
}

// loadUtterances reads every .wav file in dir as 16 kHz PCM16.
func loadUtterances(dir string) ([][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out [][]byte
	for _, e := range entries {
		if !strings.EqualFold(filepath.Ext(e.Name()), ".wav") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		samples, rate, err := audio.ParseWAV(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		out = append(out, audio.SamplesToPCM16(audio.Resample(samples, rate, loadtestRate)))
	}
	return out, nil
}

// syntheticSpeech is a 440Hz tone with noise, loud enough to pass the
// relay's silence check.
func syntheticSpeech(dur time.Duration) []byte {
	n := int(dur.Seconds() * loadtestRate)
	samples := make([]float32, n)
	for i := range samples {
		t := float64(i) / loadtestRate
		samples[i] = float32(math.Sin(2*math.Pi*440*t)*0.3 + (rand.Float64()-0.5)*0.05)
	}
	return audio.SamplesToPCM16(samples)
}

func printSummary(w io.Writer, results []callResult) {
	var failed int
	var latencies []float64
	errs := map[string]int{}
	for _, r := range results {
		if !r.success {
			failed++
			errs[r.err]++
			continue
		}
		latencies = append(latencies, r.replyMs)
	}

	fmt.Fprintf(w, "=== Load Test Results ===\n")
	fmt.Fprintf(w, "Calls completed: %d\n", len(latencies))
	fmt.Fprintf(w, "Calls failed:    %d\n", failed)
	for e, n := range errs {
		fmt.Fprintf(w, "  %4d  %s\n", n, e)
	}
	if len(latencies) == 0 {
		fmt.Fprintln(w, "No successful calls to report latency")
		return
	}
	fmt.Fprintf(w, "\n%-6s %8s %8s %8s\n", "", "p50", "p95", "p99")
	fmt.Fprintf(w, "%-6s %6.0fms %6.0fms %6.0fms\n", "Reply", percentile(latencies, 50), percentile(latencies, 95), percentile(latencies, 99))
}

func percentile(data []float64, pct float64) float64 {
	sort.Float64s(data)
	idx := int(math.Ceil(pct/100*float64(len(data)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(data) {
		idx = len(data) - 1
	}
	return data[idx]
}
