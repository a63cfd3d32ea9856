// Command vmemdiagd wires a page-backed arena hierarchy and a set of
// slab caches together, then serves their live diagnostics over a
// websocket. No CLI framework appears anywhere in the retrieval pack,
// so flags are parsed with the standard library rather than an
// ecosystem dependency with no grounding.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nyxkernel/vmem/arena"
	"github.com/nyxkernel/vmem/diag"
	"github.com/nyxkernel/vmem/internal/klog"
	"github.com/nyxkernel/vmem/pages"
	"github.com/nyxkernel/vmem/slab"
)

func main() {
	var (
		listenAddr = flag.String("addr", ":7070", "diagnostic websocket listen address")
		totalPages = flag.Uint("pages", 16384, "total pages backing the page allocator (each page is 4096 bytes)")
		pushEvery  = flag.Duration("interval", time.Second, "snapshot push interval")
	)
	flag.Parse()

	log := klog.Default("vmemdiagd")

	mem, err := pages.New(uint(*totalPages))
	if err != nil {
		log.Fatal("page allocator init failed", klog.Err(err))
	}
	defer mem.Close()

	base := arena.Builder("base_arena", pages.PageSize, klog.Default("arena.base_arena"))
	if err := base.AddSpan(mem.Base(), uintptr(mem.TotalPages())*pages.PageSize); err != nil {
		log.Fatal("base arena span failed", klog.Err(err))
	}

	kpages, err := arena.New(arena.Config{
		Name:    "kpages_arena",
		Quantum: pages.PageSize,
		Source:  base,
		Import: func(source *arena.Arena, size uintptr, flags arena.Flags) (uintptr, bool) {
			addr, err := source.Alloc(size, flags)
			return addr, err == nil
		},
		Export: func(source *arena.Arena, addr, size uintptr) {
			if err := source.Free(addr); err != nil {
				log.Warn("kpages_arena export failed", klog.Err(err))
			}
		},
	})
	if err != nil {
		log.Fatal("kpages arena init failed", klog.Err(err))
	}

	sizes := []uintptr{16, 32, 64, 128, 256, 1024, 4096}
	caches := make([]*slab.Cache, 0, len(sizes))
	for _, sz := range sizes {
		c, err := slab.New(slab.Config{
			Name:      sizeCacheName(sz),
			ObjSize:   sz,
			Align:     8,
			PageArena: kpages,
			Mem:       mem,
		})
		if err != nil {
			log.Fatal("cache init failed", klog.Err(err))
		}
		caches = append(caches, c)
	}

	bootstrap, err := slab.NewBootstrap(kpages, mem, log)
	if err != nil {
		log.Fatal("bootstrap caches init failed", klog.Err(err))
	}
	log.Info("bootstrap caches ready",
		klog.String("kmem_cache", bootstrap.CacheCache.Name()),
		klog.String("kmem_slab", bootstrap.SlabCache.Name()),
		klog.String("kmem_bufctl", bootstrap.BufctlCache.Name()))

	diagSrv := diag.NewServer(*pushEvery, klog.Default("diag.server"))
	httpSrv := &http.Server{Addr: *listenAddr, Handler: diagSrv}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("diagnostic server listening", klog.String("addr", *listenAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("diagnostic server exited", klog.Err(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", klog.Err(err))
	}

	for _, c := range caches {
		c.Reap()
	}
}

func sizeCacheName(sz uintptr) string {
	switch {
	case sz < 1024:
		return "size-" + itoa(sz) + "B"
	default:
		return "size-" + itoa(sz/1024) + "K"
	}
}

func itoa(n uintptr) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
