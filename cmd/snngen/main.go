package main

import (
	"context"
	"flag"
	"log"

	"github.com/snngen/snngen/backend/cpu"
	"github.com/snngen/snngen/backend/opencl"
	"github.com/snngen/snngen/codegen"
	"github.com/snngen/snngen/model"
)

func main() {
	modelURL := flag.String("model", "", "network description YAML (afs-resolvable URL)")
	backendName := flag.String("backend", "opencl", "target backend: opencl or cpu")
	out := flag.String("out", "generated", "output location for generated sources")
	flag.Parse()
	if *modelURL == "" {
		log.Fatal("snngen: -model is required")
	}

	var backend codegen.Backend
	switch *backendName {
	case "opencl":
		backend = opencl.New(opencl.Preferences{})
	case "cpu":
		backend = cpu.New()
	default:
		log.Fatalf("snngen: unknown backend %q", *backendName)
	}

	ctx := context.Background()
	net, err := model.Load(ctx, *modelURL)
	if err != nil {
		log.Fatalf("snngen: %v", err)
	}
	artifacts, err := codegen.Generate(net, backend)
	if err != nil {
		log.Fatalf("snngen: %v", err)
	}
	if err := codegen.WriteArtifacts(ctx, artifacts, *out); err != nil {
		log.Fatalf("snngen: %v", err)
	}
	for _, a := range artifacts {
		log.Printf("wrote %v (%d bytes)", a.Name, len(a.Content))
	}
}
