package main

import (
	"bytes"
	"fmt"
	"log"

	"github.com/deltastream/vcdiff"
)

func main() {
	source := []byte("Hello, World! This is the dictionary content.")
	target := []byte("Hello, World! This is the target content, extended a bit further.")

	enc := vcdiff.NewEncoder(false)
	if err := enc.Init(uint32(len(source))); err != nil {
		log.Fatalf("Init failed: %v", err)
	}

	// A minimal greedy match: copy the common prefix, then add the rest.
	prefixLen := 0
	for prefixLen < len(source) && prefixLen < len(target) && source[prefixLen] == target[prefixLen] {
		prefixLen++
	}
	if prefixLen > 0 {
		if err := enc.Copy(0, uint32(prefixLen)); err != nil {
			log.Fatalf("Copy failed: %v", err)
		}
	}
	if remainder := target[prefixLen:]; len(remainder) > 0 {
		if err := enc.Add(remainder, 0, len(remainder)); err != nil {
			log.Fatalf("Add failed: %v", err)
		}
	}

	var delta bytes.Buffer
	if err := enc.WriteHeader(&delta, false); err != nil {
		log.Fatalf("WriteHeader failed: %v", err)
	}
	if err := enc.Output(&delta); err != nil {
		log.Fatalf("Output failed: %v", err)
	}

	result, err := vcdiff.Decode(source, delta.Bytes())
	if err != nil {
		log.Fatalf("Failed to decode: %v", err)
	}

	fmt.Printf("Source: %q\n", source)
	fmt.Printf("Target: %q\n", target)
	fmt.Printf("Delta:  %d bytes\n", delta.Len())
	fmt.Printf("Decoded round-trip matches target: %v\n", bytes.Equal(result, target))
}
