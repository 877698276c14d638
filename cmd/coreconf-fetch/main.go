package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/alecthomas/units"
	"github.com/mkideal/cli"
	clix "github.com/mkideal/cli/ext"
	"github.com/plgd-dev/go-coreconf/client"
	"github.com/plgd-dev/go-coreconf/codec/cbor"
	"github.com/plgd-dev/go-coreconf/sid"
	"go.uber.org/zap"
)

type opts struct {
	cli.Helper

	URI            string        `cli:"*u, uri" name:"uri" usage:"Target, e.g. coap://[fe80::cc66:c2ff:fe36:62fe%tap0]/sid"`
	IDs            []string      `cli:"i, id" name:"sid[:key...]" usage:"Instance identifier to fetch, repeatable"`
	Payload        string        `cli:"p, payload" name:"json" usage:"Arbitrary JSON value sent as CBOR instead of --id"`
	Timeout        clix.Duration `cli:"t, timeout" name:"duration" usage:"Response timeout" dft:"5s"`
	MaxMessageSize string        `cli:"max-message-size" name:"size" usage:"Maximum CoAP message size" dft:"64KiB"`
	PSKIdentity    string        `cli:"psk-identity" name:"identity" usage:"DTLS PSK identity for coaps://"`
	PSK            string        `cli:"psk" name:"key" usage:"DTLS PSK for coaps://"`
	JSON           bool          `cli:"json" usage:"Print decoded response as JSON"`
	Debug          bool          `cli:"d, debug" usage:"Debug Output"`
}

var errMissingPayload = errors.New("either --id or --payload is required")

func (o *opts) payload() (interface{}, error) {
	switch {
	case o.Payload != "" && len(o.IDs) > 0:
		return nil, errors.New("--id and --payload are mutually exclusive")
	case o.Payload != "":
		return cbor.FromJSON([]byte(o.Payload))
	case len(o.IDs) > 0:
		return sid.ParseRequest(o.IDs...)
	}
	return nil, errMissingPayload
}

func (o *opts) newLogger() (*zap.Logger, error) {
	if o.Debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func (o *opts) clientOptions(logger *zap.Logger) ([]client.Option, error) {
	size, err := units.ParseBase2Bytes(o.MaxMessageSize)
	if err != nil {
		return nil, fmt.Errorf("invalid --max-message-size: %w", err)
	}
	if size <= 0 || size > 1<<32-1 {
		return nil, fmt.Errorf("invalid --max-message-size: %v", o.MaxMessageSize)
	}
	clientOpts := []client.Option{
		client.WithLogger(logger),
		client.WithMaxMessageSize(uint32(size)),
	}
	if o.Timeout.Duration > 0 {
		clientOpts = append(clientOpts, client.WithTimeout(o.Timeout.Duration))
	}
	if o.PSK != "" {
		clientOpts = append(clientOpts, client.WithPSK(o.PSKIdentity, []byte(o.PSK)))
	}
	return clientOpts, nil
}

func printResponse(w io.Writer, resp *client.Response, asJSON bool) error {
	fmt.Fprintf(w, "Response code: %v\n", resp.Code)
	fmt.Fprintf(w, "Response payload: %x\n", resp.Payload)
	if resp.Value == nil {
		return nil
	}
	if asJSON {
		s, err := cbor.ToJSON(resp.Payload)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, s)
		return nil
	}
	fmt.Fprintf(w, "%v\n", resp.Value)
	return nil
}

func run(ctx context.Context, o *opts, stdout io.Writer) error {
	value, err := o.payload()
	if err != nil {
		return err
	}
	logger, err := o.newLogger()
	if err != nil {
		return fmt.Errorf("cannot create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	clientOpts, err := o.clientOptions(logger)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Request: %v\n", value)
	resp, err := client.SendCBORRequest(ctx, o.URI, value, clientOpts...)
	if err != nil {
		return err
	}
	return printResponse(stdout, resp, o.JSON)
}

func main() {
	os.Exit(cli.Run(new(opts), func(cmdline *cli.Context) error {
		o := cmdline.Argv().(*opts)
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()
		return run(ctx, o, os.Stdout)
	}, "coreconf-fetch sends a CORECONF FETCH with a CBOR payload and prints the decoded response"))
}
