package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/rigd-project/rigd/pkg/protocol"
)

var (
	serverURL = flag.String("server", "http://localhost:8073", "rigd API base URL")
)

func main() {
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		showHelp()
		return
	}

	client := &apiClient{base: *serverURL, http: &http.Client{Timeout: 15 * time.Second}}

	var err error
	switch args[0] {
	case "status":
		err = client.get("/api/v1/status")
	case "info":
		err = client.get("/api/v1/radio")
	case "freq":
		if len(args) < 2 {
			err = client.get("/api/v1/radio/frequency")
			break
		}
		var hz int64
		if hz, err = strconv.ParseInt(args[1], 10, 64); err != nil {
			err = fmt.Errorf("bad frequency %q", args[1])
			break
		}
		err = client.put("/api/v1/radio/frequency", protocol.FrequencyRequest{Frequency: hz})
	case "mode":
		if len(args) < 2 {
			err = client.get("/api/v1/radio/mode")
			break
		}
		req := protocol.ModeRequest{Mode: args[1]}
		if len(args) > 2 {
			req.Bandwidth, _ = strconv.Atoi(args[2])
		}
		err = client.put("/api/v1/radio/mode", req)
	case "ptt":
		if len(args) < 2 || (args[1] != "on" && args[1] != "off") {
			err = fmt.Errorf("usage: ptt on|off")
			break
		}
		err = client.post("/api/v1/radio/ptt", protocol.PTTRequest{Transmit: args[1] == "on"})
	case "tuner":
		if len(args) < 2 {
			err = client.get("/api/v1/radio/tuner")
			break
		}
		switch args[1] {
		case "on":
			err = client.post("/api/v1/radio/tuner", protocol.TunerRequest{Enabled: true})
		case "off":
			err = client.post("/api/v1/radio/tuner", protocol.TunerRequest{Enabled: false})
		case "tune":
			err = client.post("/api/v1/radio/tuner", protocol.TunerRequest{Tune: true})
		default:
			err = fmt.Errorf("usage: tuner on|off|tune")
		}
	case "meters":
		err = client.get("/api/v1/radio/meters")
	case "reconnect":
		err = client.post("/api/v1/radio/reconnect", nil)
	case "disconnect":
		reason := "requested via rigctl"
		if len(args) > 1 {
			reason = args[1]
		}
		err = client.post("/api/v1/radio/disconnect", protocol.DisconnectRequest{Reason: reason})
	case "events":
		err = client.get("/api/v1/events")
	case "audio":
		err = client.get("/api/v1/audio")
	default:
		showHelp()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type apiClient struct {
	base string
	http *http.Client
}

func (c *apiClient) get(path string) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func (c *apiClient) put(path string, body interface{}) error {
	return c.send(http.MethodPut, path, body)
}

func (c *apiClient) post(path string, body interface{}) error {
	return c.send(http.MethodPost, path, body)
}

func (c *apiClient) send(method, path string, body interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	return printResponse(resp)
}

// printResponse pretty-prints the JSON body and maps API failures to a
// nonzero exit.
func printResponse(resp *http.Response) error {
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		fmt.Println(string(data))
	} else {
		fmt.Println(pretty.String())
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}

func showHelp() {
	fmt.Println("rigctl - rigd control tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Printf("  %s [options] <command>\n", os.Args[0])
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -server <url>     rigd API base URL (default: http://localhost:8073)")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  status                    Get daemon status")
	fmt.Println("  info                      Get radio model and capabilities")
	fmt.Println("  freq [hz]                 Get or set frequency")
	fmt.Println("  mode [mode] [bandwidth]   Get or set mode")
	fmt.Println("  ptt on|off                Key or unkey the transmitter")
	fmt.Println("  tuner [on|off|tune]       Get or control the antenna tuner")
	fmt.Println("  meters                    Read transmitter telemetry")
	fmt.Println("  reconnect                 Force an immediate reconnect")
	fmt.Println("  disconnect [reason]       Tear the connection down")
	fmt.Println("  events                    Show recent connection history")
	fmt.Println("  audio                     Show RX audio monitor snapshot")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Printf("  %s status\n", os.Args[0])
	fmt.Printf("  %s freq 14074000\n", os.Args[0])
	fmt.Printf("  %s mode USB 2400\n", os.Args[0])
}
