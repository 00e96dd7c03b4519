// Program msgport is a command-line utility for exercising message ports.
package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/msgport"
	"github.com/creachadair/msgport/loop"
	"github.com/creachadair/msgport/worker"
	"github.com/creachadair/taskgroup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var pingFlags struct {
	Count       int    `flag:"n,default=1000,Number of round trips"`
	Size        int    `flag:"size,default=64,Payload size in bytes"`
	Transfer    bool   `flag:"transfer,Transfer the payload buffer instead of copying it"`
	Verbose     bool   `flag:"v,Log each message exchanged"`
	MetricsAddr string `flag:"metrics-addr,Serve Prometheus metrics at this address"`
}

var fanFlags struct {
	Workers int  `flag:"workers,default=4,Number of workers"`
	Count   int  `flag:"n,default=100,Number of messages per worker"`
	Verbose bool `flag:"v,Log each message exchanged"`
}

func main() {
	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Help: "Utilities for exercising in-process message ports.",
		Commands: []*command.C{
			{
				Name: "pingpong",
				Help: `Exchange a payload with a worker and report the round-trip time.

The main loop posts a buffer to a worker, which echoes it back; this repeats
for the requested number of round trips. With --transfer, the buffer is moved
in each direction instead of being copied.`,
				SetFlags: command.Flags(flax.MustBind, &pingFlags),
				Run:      runPingPong,
			},
			{
				Name: "fanout",
				Help: `Distribute numbers among several workers and sum their replies.`,

				SetFlags: command.Flags(flax.MustBind, &fanFlags),
				Run:      runFanOut,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

func newLogger(verbose bool) *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	log, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func logMessages(log *zap.Logger, tag string) msgport.MessageLogger {
	return func(m msgport.MessageInfo) {
		log.Debug("message", zap.String("side", tag), zap.Stringer("info", m))
	}
}

// reply posts v on p. If the post fails, it logs the error and closes p.
func reply(log *zap.Logger, p *msgport.Port, v, transferList any) {
	if err := p.PostMessage(v, transferList); err != nil {
		log.Error("reply failed", zap.Stringer("port", p), zap.Error(err))
		p.Close(nil)
	}
}

func runPingPong(env *command.Env) (err error) {
	if pingFlags.Count <= 0 || pingFlags.Size < 0 {
		return env.Usagef("invalid count or size")
	}
	log := newLogger(pingFlags.Verbose)
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	transfer := pingFlags.Transfer
	xfer := func(buf *msgport.Buffer) any {
		if transfer {
			return []any{buf}
		}
		return nil
	}
	send := func(p *msgport.Port, buf *msgport.Buffer) error { return p.PostMessage(buf, xfer(buf)) }

	lp := loop.New()
	w := worker.Spawn(ctx, lp, func(p *msgport.Port) {
		p.LogMessages(logMessages(log, "worker"))
		p.SetOnMessage(func(e *msgport.MessageEvent) {
			buf := e.Data.(*msgport.Buffer)
			reply(log, e.Target, buf, xfer(buf))
		})
	})

	port := w.Port.LogMessages(logMessages(log, "main"))
	if pingFlags.MetricsAddr != "" {
		stop, serr := serveMetrics(log, pingFlags.MetricsAddr, port.Metrics())
		if serr != nil {
			port.Close(nil)
			return multierr.Append(serr, w.Wait())
		}
		defer func() { err = multierr.Append(err, stop()) }()
	}
	var count int
	var postErr error
	port.On(msgport.EventMessage, func(v any) {
		count++
		if count >= pingFlags.Count {
			port.Close(nil)
		} else if err := send(port, v.(*msgport.Buffer)); err != nil {
			postErr = err
			port.Close(nil)
		}
	})

	start := time.Now()
	if err := send(port, msgport.NewBuffer(make([]byte, pingFlags.Size))); err != nil {
		return err
	}
	if err := multierr.Combine(lp.Run(ctx), w.Wait(), postErr); err != nil {
		return err
	}
	elapsed := time.Since(start)

	fmt.Printf("%d round trips of %d bytes in %v (%v/op)\n",
		count, pingFlags.Size, elapsed.Round(time.Microsecond), elapsed/time.Duration(max(count, 1)))
	log.Info("done",
		zap.Int("roundTrips", count),
		zap.Bool("transfer", transfer),
		zap.Duration("elapsed", elapsed),
		zap.String("metrics", port.Metrics().String()),
	)
	return nil
}

func runFanOut(env *command.Env) error {
	if fanFlags.Workers <= 0 || fanFlags.Count < 0 {
		return env.Usagef("invalid worker count or message count")
	}
	log := newLogger(fanFlags.Verbose)
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	lp := loop.New()
	var total, replies int
	want := fanFlags.Workers * fanFlags.Count

	ws := make([]*worker.Worker, fanFlags.Workers)
	for i := range ws {
		w := worker.Spawn(ctx, lp, func(p *msgport.Port) {
			p.LogMessages(logMessages(log, fmt.Sprintf("worker-%d", i)))
			p.On(msgport.EventMessage, func(v any) {
				reply(log, p, v.(int)*v.(int), nil)
			})
		})
		w.Port.On(msgport.EventMessage, func(v any) {
			total += v.(int)
			replies++
			if replies == want {
				for _, w := range ws {
					w.Port.Close(nil)
				}
			}
		})
		ws[i] = w
	}
	for i := range fanFlags.Count {
		for _, w := range ws {
			if err := w.Port.PostMessage(i, nil); err != nil {
				return err
			}
		}
	}
	if want == 0 {
		for _, w := range ws {
			w.Port.Close(nil)
		}
	}

	if err := multierr.Combine(lp.Run(ctx), worker.WaitAll(ws...)); err != nil {
		return err
	}
	fmt.Printf("%d replies from %d workers, sum of squares %d\n", replies, len(ws), total)
	return nil
}

// serveMetrics exports the port metrics to Prometheus at addr. The returned
// function stops the server.
func serveMetrics(log *zap.Logger, addr string, m *expvar.Map) (func() error, error) {
	const varName = "msgport"
	if expvar.Get(varName) == nil {
		expvar.Publish(varName, m)
	}
	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewExpvarCollector(map[string]*prometheus.Desc{
		varName: prometheus.NewDesc("msgport_metric", "Message port metrics.", []string{"name"}, nil),
	})); err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	g := taskgroup.New(nil)
	g.Go(func() error {
		log.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return multierr.Combine(srv.Shutdown(ctx), g.Wait())
	}, nil
}
