// Command pagestore-inspect dumps and verifies an offline fragment-store
// file without starting a full StorageEngine, in the same spirit as
// tinySQL's cmd/main.go flag-driven entry point.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/kallisti-db/pagestore/internal/pager"
)

func main() {
	var (
		storePath = flag.String("store", "", "path to the fragment store file (required)")
		pageKey   = flag.Int64("page", -1, "dump a single fragment at this byte offset")
		chain     = flag.Int64("chain", -1, "dump the fragment chain starting at this byte offset")
		revisions = flag.Int64("revisions", -1, "dump the revision-root chain starting at this byte offset")
		verify    = flag.Bool("verify", false, "scan the store and report CRC issues")
	)
	flag.Parse()

	if *storePath == "" {
		fmt.Fprintln(os.Stderr, "pagestore-inspect: -store is required")
		flag.Usage()
		os.Exit(2)
	}

	switch {
	case *verify:
		runVerify(*storePath)
	case *chain >= 0:
		runChain(*storePath, *chain)
	case *revisions >= 0:
		runRevisions(*storePath, *revisions)
	case *pageKey >= 0:
		runInspect(*storePath, *pageKey)
	default:
		fmt.Fprintln(os.Stderr, "pagestore-inspect: one of -verify, -chain, -revisions, or -page is required")
		flag.Usage()
		os.Exit(2)
	}
}

func runVerify(storePath string) {
	issues, err := pager.VerifyStore(storePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pagestore-inspect: verify: %v\n", err)
		os.Exit(1)
	}
	if len(issues) == 0 {
		fmt.Println("store is healthy")
		return
	}
	for _, issue := range issues {
		fmt.Println(issue)
	}
	os.Exit(1)
}

func runChain(storePath string, pageKey int64) {
	dump, err := pager.DumpChain(storePath, pageKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pagestore-inspect: chain: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(dump)
}

func runRevisions(storePath string, rootKey int64) {
	dump, err := pager.DumpRevisions(storePath, rootKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pagestore-inspect: revisions: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(dump)
}

func runInspect(storePath string, pageKey int64) {
	info, err := pager.InspectFragment(storePath, pageKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pagestore-inspect: inspect: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("pageKey=%d kind=%s version=%d recordPageKey=%d revision=%d indexType=%d crc=%08x crcValid=%v\n",
		info.PageKey, info.KindStr, info.Version, info.RecordPageKey, info.Revision, info.IndexType, info.CRC, info.CRCValid)
	switch info.Kind {
	case pager.PageKindKeyValueLeaf:
		fmt.Printf("  slots=%d lastSlotIndex=%d previousFragmentKey=%d references=%d\n",
			info.SlotCount, info.LastSlotIndex, info.PreviousFragmentKey, info.ReferenceCount)
	case pager.PageKindIndirect:
		fmt.Printf("  children=%d\n", info.ChildCount)
	case pager.PageKindRevisionRoot:
		fmt.Printf("  resource=%d committedAt=%d previousRootKey=%d trie=%v\n",
			info.ResourceID, info.CommitTimestamp, info.PreviousRootKey, info.HasTrieRoot)
	case pager.PageKindName, pager.PageKindPathSummary, pager.PageKindCAS, pager.PageKindPath:
		fmt.Printf("  trie=%v\n", info.HasTrieRoot)
	}
}
