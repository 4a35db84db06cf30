// Command repomesh-anchord serves a local directory of anchor manifests over
// gRPC, so verifiers that do not have direct filesystem access to the
// manifest store can still resolve a partitionId to its manifest.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"

	"google.golang.org/grpc"

	"github.com/repomesh/core/anchor"
)

func main() {
	fs := flag.NewFlagSet("repomesh-anchord", flag.ExitOnError)
	listen := fs.String("listen", "127.0.0.1:7778", "listen address")
	dir := fs.String("dir", "", "manifest store directory (required)")
	_ = fs.Parse(os.Args[1:])

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "repomesh-anchord: -dir is required")
		os.Exit(2)
	}

	store, err := anchor.NewStore(*dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	lis, err := net.Listen("tcp", *listen)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer lis.Close()

	s := grpc.NewServer()
	anchor.RegisterManifestServer(s, &anchor.Server{Store: store})

	fmt.Fprintf(os.Stderr, "repomesh-anchord listening on %s (dir=%s)\n", lis.Addr().String(), *dir)
	if err := s.Serve(lis); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
