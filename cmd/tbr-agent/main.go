package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/meshcore/tbr-agent/internal/actionqueue"
	"github.com/meshcore/tbr-agent/internal/allowlist"
	"github.com/meshcore/tbr-agent/internal/api"
	"github.com/meshcore/tbr-agent/internal/collections"
	"github.com/meshcore/tbr-agent/internal/collector"
	"github.com/meshcore/tbr-agent/internal/config"
	"github.com/meshcore/tbr-agent/internal/ipclass"
	"github.com/meshcore/tbr-agent/internal/scanloop"
	"github.com/meshcore/tbr-agent/internal/threadapi"
	"github.com/meshcore/tbr-agent/internal/tlv"
)

func main() {
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		fatalf("%v", err)
	}

	runtimeCfg := &atomic.Pointer[config.RuntimeConfig]{}
	runtimeCfg.Store(config.NewDefaultRuntimeConfig())
	if envCfg.DiscoverySchedule != "" {
		rc := *runtimeCfg.Load()
		rc.DiscoverySchedule = envCfg.DiscoverySchedule
		runtimeCfg.Store(&rc)
	}

	// Phase 1: the Thread API adapter. The NCP/RCP transport and CoAP/DTLS
	// stacks are out of scope for this agent; threadapi.Fake is the only
	// Adapter implementation in this tree, so it is wired here as the
	// production singleton pending a real transport binding.
	adapter := threadapi.NewFake()
	meshPrefix := parsePrefixOrZero(envCfg.MeshLocalPrefixHex)
	rlocPrefix := parsePrefixOrZero(envCfg.RlocPrefixHex)
	adapter.SetOwnNode(0, [8]byte{}, meshPrefix, rlocPrefix)

	// Phase 2: collections.
	rc := runtimeCfg.Load()
	devices := collections.New(rc.MaxDevicesCollectionItems)
	diagnostics := collections.New(rc.MaxDiagCollectionItems)

	// Phase 3: the ipclass destination resolver, keyed off the devices
	// collection for device-id -> MLEID-IID lookups.
	resolver := ipclass.NewResolver(meshPrefix, rlocPrefix, deviceLookupFrom(devices), 256)

	// Phase 4: the diagnostic collector.
	coll := collector.New(
		adapter,
		devices,
		diagnostics,
		func() string { return uuid.NewString() },
		srpLookupFrom(adapter),
		thisDeviceInfoFrom(adapter),
		func() *tlv.Set { return tlv.NewSet() },
	)

	// Phase 5: the allow-list / commissioner gate.
	allowList := allowlist.New(adapter)
	adapter.SetJoinerEventCallback(func(eui64 string, kind threadapi.JoinerEventKind) {
		switch kind {
		case threadapi.JoinerEventStart:
			allowList.OnJoinerStart(eui64)
		case threadapi.JoinerEventFinalize:
			allowList.OnJoinerFinalize(eui64)
		case threadapi.JoinerEventRemoved:
			allowList.OnJoinerRemoved(eui64)
		}
	})

	// Phase 6: the action queue and its per-type handlers.
	queue := actionqueue.New(rc.TaskQueueMax)
	queue.SetDefaultTimeout(envCfg.DefaultActionTimeout)
	queue.Register(actionqueue.NewAddThreadDeviceHandler(allowList))
	queue.Register(actionqueue.NewGetNetworkDiagnosticHandler(coll, resolver, func() *config.RuntimeConfig { return runtimeCfg.Load() }))
	queue.Register(actionqueue.NewResetNetworkDiagCounterHandler(adapter))
	queue.Register(actionqueue.NewGetEnergyScanHandler(adapter))

	tickStop := make(chan struct{})
	go scanloop.Run(tickStop, runtimeCfg.Load().TickPeriod.Std(), 0, queue.Tick)

	var discoveryStop chan struct{}
	if rc.DiscoverySchedule != "" {
		discoveryStop = make(chan struct{})
		go runDiscoverySchedule(rc.DiscoverySchedule, coll, devices, discoveryStop)
	}

	// Phase 7: the HTTP API.
	startedAt := time.Now().UTC()
	srv := api.NewServer(
		envCfg.Port,
		envCfg.AdminToken,
		int64(envCfg.APIMaxBodyBytes),
		queue,
		devices,
		diagnostics,
		allowList,
		coll,
		startedAt,
		runtimeCfg,
	)

	serverErrCh := make(chan error, 1)
	go func() {
		log.Printf("tbr-agent API server starting on :%d", envCfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		log.Printf("received signal %s, shutting down...", sig)
	case err := <-serverErrCh:
		log.Printf("api server error: %v, shutting down...", err)
	}

	close(tickStop)
	if discoveryStop != nil {
		close(discoveryStop)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
}


// runDiscoverySchedule fires a full-mesh StartDiscovery sweep on the
// configured cron cadence. Errors are logged; a cycle already in progress
// simply skips that tick (ErrInvalidState).
func runDiscoverySchedule(schedule string, coll *collector.Collector, devices *collections.Collection, stop <-chan struct{}) {
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		log.Printf("discovery schedule: invalid cron expression, periodic sweep disabled: %v", err)
		return
	}
	for {
		now := time.Now()
		next := sched.Next(now)
		select {
		case <-stop:
			return
		case <-time.After(next.Sub(now)):
			if err := coll.Configure(30*time.Second, 60*time.Second, 2, func(collector.Relationship, bool) {}); err != nil {
				log.Printf("discovery schedule: %v", err)
				continue
			}
			if err := coll.StartDiscovery(collector.RelationshipDevices); err != nil {
				log.Printf("discovery schedule: %v", err)
			}
		}
	}
}

func deviceLookupFrom(devices *collections.Collection) ipclass.DeviceLookup {
	return func(deviceID string) ([8]byte, bool) {
		item, _, _, ok := devices.Get(deviceID)
		if !ok {
			return [8]byte{}, false
		}
		dev, ok := item.(*collections.Device)
		if !ok || !dev.HasMleidIID {
			return [8]byte{}, false
		}
		return dev.MleidIID, true
	}
}

func srpLookupFrom(adapter threadapi.Adapter) collections.SrpHostnameLookup {
	return func(addrs []net.IP) (string, bool) {
		cursor := ""
		for {
			host, ok := adapter.GetNextHost(cursor)
			if !ok {
				return "", false
			}
			for _, hostAddr := range host.Addresses {
				for _, a := range addrs {
					if hostAddr.Equal(a) {
						return host.Hostname, true
					}
				}
			}
			cursor = host.Hostname
		}
	}
}

func thisDeviceInfoFrom(adapter threadapi.Adapter) func() collections.ThisDeviceInfo {
	return func() collections.ThisDeviceInfo {
		return collections.ThisDeviceInfo{
			Rloc16: fmt.Sprintf("%04x", uint16(adapter.Rloc16())),
		}
	}
}

func parsePrefixOrZero(hexStr string) [8]byte {
	var out [8]byte
	if hexStr == "" {
		return out
	}
	raw, err := hex.DecodeString(hexStr)
	if err != nil || len(raw) != 8 {
		return out
	}
	copy(out[:], raw)
	return out
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "fatal: "+format+"\n", args...)
	os.Exit(1)
}
