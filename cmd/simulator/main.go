package main

import (
	"flag"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/go-resty/resty/v2"
)

type vitalsState struct {
	bpm         float64
	rr          float64
	hrv         float64
	temperature float64
}

func main() {
	var baseURL string
	var stream string
	var groupName string
	var interval time.Duration
	var jitter time.Duration
	var timeout time.Duration
	var count int
	var seed int64

	flag.StringVar(&baseURL, "url", "http://localhost:3000", "server base URL")
	flag.StringVar(&stream, "stream", "both", "stream to emit: temperature, vitals or both")
	flag.StringVar(&groupName, "group", "sim-group", "group name for temperature readings")
	flag.DurationVar(&interval, "interval", 2*time.Second, "base delay between emitted readings")
	flag.DurationVar(&jitter, "jitter", 500*time.Millisecond, "max random delay added to each interval")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "HTTP request timeout")
	flag.IntVar(&count, "count", 0, "number of readings to emit (0 = infinite)")
	flag.Int64Var(&seed, "seed", 0, "random seed (0 = use current time)")
	flag.Parse()

	if interval <= 0 {
		log.Fatal("interval must be > 0")
	}
	if jitter < 0 {
		log.Fatal("jitter must be >= 0")
	}
	if stream != "temperature" && stream != "vitals" && stream != "both" {
		log.Fatal("stream must be temperature, vitals or both")
	}

	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	state := vitalsState{bpm: 72, rr: 0.8, hrv: 42, temperature: 36.6}
	emitted := 0

	log.Printf("simulator started seed=%d target=%s stream=%s interval=%s", seed, baseURL, stream, interval)

	for {
		if count > 0 && emitted >= count {
			log.Printf("emitted %d readings, exiting", emitted)
			return
		}

		if stream == "temperature" || stream == "both" {
			payload := map[string]any{
				"groupName":   groupName,
				"temperature": round1(20 + rng.Float64()*6),
			}
			post(client, "/temperature", payload)
		}

		if stream == "vitals" || stream == "both" {
			state.drift(rng)
			payload := map[string]any{
				"ecg":         round1(rng.Float64()*2 - 1),
				"bpm":         round1(state.bpm),
				"rr":          round1(state.rr),
				"hrv":         round1(state.hrv),
				"temperature": round1(state.temperature),
			}
			post(client, "/ecg", payload)
		}

		emitted++

		delay := interval
		if jitter > 0 {
			delay += time.Duration(rng.Int63n(int64(jitter)))
		}

		select {
		case <-stop:
			log.Printf("interrupted after %d readings", emitted)
			return
		case <-time.After(delay):
		}
	}
}

func (state *vitalsState) drift(rng *rand.Rand) {
	state.bpm = clamp(state.bpm+rng.Float64()*4-2, 50, 140)
	state.rr = clamp(state.rr+rng.Float64()*0.1-0.05, 0.4, 1.6)
	state.hrv = clamp(state.hrv+rng.Float64()*6-3, 15, 90)
	state.temperature = clamp(state.temperature+rng.Float64()*0.2-0.1, 35.5, 39.5)
}

func post(client *resty.Client, path string, payload map[string]any) {
	response, err := client.R().SetBody(payload).Post(path)
	if err != nil {
		log.Printf("post %s: %v", path, err)
		return
	}
	if response.IsError() {
		log.Printf("post %s: status %d body %s", path, response.StatusCode(), response.String())
	}
}

func clamp(value, low, high float64) float64 {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}

func round1(value float64) float64 {
	return math.Round(value*10) / 10
}
