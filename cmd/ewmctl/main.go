package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.App{
		Name:  "ewmctl",
		Usage: "Administer an ewmd instance over its loopback HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Value: "http://127.0.0.1:80",
				Usage: "base URL of the ewmd instance",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "attach",
				Usage:  "Switch to UsbExposed mode",
				Action: attachCmd,
			},
			{
				Name:   "detach",
				Usage:  "Switch to AppMounted mode",
				Action: detachCmd,
			},
			{
				Name:   "status",
				Usage:  "Report the current mode and free/total space",
				Action: statusCmd,
			},
			{
				Name:   "selftest",
				Usage:  "Run the SD write/read self-test",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "size-mb", Value: 10, Usage: "size of the test pattern in megabytes"},
				},
				Action: selfTestCmd,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("ewmctl: %s", err.Error())
	}
}

var httpClient = &http.Client{Timeout: 5 * time.Minute}

func attachCmd(c *cli.Context) error {
	return postAndPrint(c, "/api/usb/attach")
}

func detachCmd(c *cli.Context) error {
	return postAndPrint(c, "/api/usb/detach")
}

func statusCmd(c *cli.Context) error {
	return getAndPrint(c, "/api/fs/status")
}

func selfTestCmd(c *cli.Context) error {
	path := fmt.Sprintf("/api/sd/selftest?size_mb=%d", c.Int("size-mb"))
	return postAndPrint(c, path)
}

func postAndPrint(c *cli.Context, path string) error {
	resp, err := httpClient.Post(c.String("addr")+path, "application/json", nil)
	if err != nil {
		return fmt.Errorf("ewmctl: request failed: %w", err)
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func getAndPrint(c *cli.Context, path string) error {
	resp, err := httpClient.Get(c.String("addr") + path)
	if err != nil {
		return fmt.Errorf("ewmctl: request failed: %w", err)
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ewmctl: read response: %w", err)
	}

	var pretty map[string]interface{}
	if err := json.Unmarshal(body, &pretty); err != nil {
		fmt.Println(string(body))
		return nil
	}
	encoded, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Println(string(encoded))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("ewmctl: request failed with status %d", resp.StatusCode)
	}
	return nil
}
