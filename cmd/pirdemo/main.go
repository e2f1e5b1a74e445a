// Command pirdemo runs an index PIR or a keyword PIR round trip between an
// in-process client and server and prints the time taken by each step.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/pro7ech/fhe-org-2024/pir-engine/codec"
	"github.com/pro7ech/fhe-org-2024/pir-engine/he"
	"github.com/pro7ech/fhe-org-2024/pir-engine/keyword"
	"github.com/pro7ech/fhe-org-2024/pir-engine/matching"
	"github.com/pro7ech/fhe-org-2024/pir-engine/pir"
	"github.com/pro7ech/fhe-org-2024/pir-engine/powers"
	"github.com/pro7ech/fhe-org-2024/pir-engine/reduce"
	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/he/heint"
)

var presets = map[string]heint.ParametersLiteral{
	"pir":      he.PIRParametersLiteral,
	"folding":  he.FoldingParametersLiteral,
	"matching": he.MatchingParametersLiteral,
}

func main() {

	l := log.New(os.Stderr, "", 0)

	var mode, preset, paramsPath, dims string
	var size, width, index, workers, entries int
	var force, debug bool

	flag.StringVar(&mode, "mode", "index", "index or keyword")
	flag.StringVar(&preset, "params", "", "parameter preset: pir, folding or matching (default pir in index mode, matching in keyword mode)")
	flag.StringVar(&paramsPath, "params-file", "", "JSON encoded heint.ParametersLiteral, overrides -params")
	flag.StringVar(&dims, "nvec", "16", "comma separated dimensions of the database")
	flag.IntVar(&size, "size", 16, "number of rows of the database")
	flag.IntVar(&width, "width", 8, "number of values per row")
	flag.IntVar(&index, "index", 5, "index of the row to retrieve")
	flag.IntVar(&workers, "workers", 1, "number of goroutines folding each dimension")
	flag.IntVar(&entries, "entries", 300, "size of the server set in keyword mode")
	flag.BoolVar(&force, "force-reencode", false, "re-encode between every dimension")
	flag.BoolVar(&debug, "debug", false, "print intermediate values with the secret key")
	flag.Parse()

	if preset == "" {
		preset = "pir"
		if mode == "keyword" {
			preset = "matching"
		}
	}

	lit, ok := presets[preset]
	if !ok {
		l.Fatalf("unknown preset %q", preset)
	}

	if paramsPath != "" {
		var err error
		if lit, err = he.LoadParametersLiteral(paramsPath); err != nil {
			l.Fatal(err)
		}
	}

	ctx, err := he.NewContextFromLiteral(lit, 0)
	if err != nil {
		l.Fatal(err)
	}

	l.Printf("LogN=%d LogQP=%f T=%d Levels=%d\n", ctx.LogN(), ctx.LogQP(), ctx.PlaintextModulus(), ctx.MaxLevel()+1)

	switch mode {
	case "index":

		var nvec []int
		if nvec, err = parseDimensions(dims); err != nil {
			l.Fatal(err)
		}

		err = runIndex(ctx, nvec, size, width, index, workers, force, debug)

	case "keyword":
		err = runKeyword(ctx, entries)
	default:
		err = fmt.Errorf("unknown mode %q", mode)
	}

	if err != nil {
		l.Fatal(err)
	}
}

func parseDimensions(s string) (nvec []int, err error) {
	for _, f := range strings.Split(s, ",") {
		var n int
		if n, err = strconv.Atoi(strings.TrimSpace(f)); err != nil {
			return nil, fmt.Errorf("invalid dimension %q: %w", f, err)
		}
		nvec = append(nvec, n)
	}
	return
}

func runIndex(ctx *he.Context, nvec []int, size, width, index, workers int, force, debug bool) (err error) {

	client := pir.NewClient(ctx)
	server := pir.NewServer(ctx)
	server.Workers = workers
	server.ForceReencode = force

	if debug {
		server.SkDebug = client.SecretKey()
	}

	var evk *rlwe.MemEvaluationKeySet
	if err = he.RunTimed("Client: generate evaluation keys", func() (err error) {
		evk, err = client.GenEvaluationKeys(nvec)
		return
	}); err != nil {
		return
	}

	db := pir.NewDatabase(size, width, ctx.PlaintextModulus())

	var snap *pir.Snapshot
	if err = he.RunTimed(fmt.Sprintf("Server: encode %d x %d database", size, width), func() (err error) {
		snap, err = server.Publish(db, nvec)
		return
	}); err != nil {
		return
	}

	fmt.Printf("Snapshot v%d digest=%x\n", snap.Version, snap.Digest[:8])

	var query *pir.Query
	if err = he.RunTimed(fmt.Sprintf("Client: query index %d", index), func() (err error) {
		query, err = client.Query(index, nvec)
		return
	}); err != nil {
		return
	}

	var reply *reduce.Reply
	if err = he.RunTimed(fmt.Sprintf("Server: reply over %v", nvec), func() (err error) {
		reply, err = server.ProcessQuery(query, evk)
		return
	}); err != nil {
		return
	}

	var have []uint64
	if err = he.RunTimed(fmt.Sprintf("Client: decode %d ciphertexts", len(reply.Ciphertexts)), func() (err error) {
		have, err = client.Decode(reply, width)
		return
	}); err != nil {
		return
	}

	want := db.Row(index)

	fmt.Printf("Have: %v\n", have)
	fmt.Printf("Want: %v\n", want)

	for i := range want {
		if have[i] != want[i] {
			return fmt.Errorf("%w: wrong value at position %d", he.ErrInvariant, i)
		}
	}

	if len(reply.Layers) == 0 {
		var noises []he.Noise
		if noises, err = client.Noise(reply, want); err != nil {
			return
		}
		fmt.Println(noises[0])

		var summary he.NoiseSummary
		if summary, err = he.Summarize(noises); err != nil {
			return
		}

		fmt.Printf("Budget over %d ciphertexts: mean=%f median=%f std=%f min=%f\n", len(noises), summary.Mean, summary.Median, summary.StdDev, summary.Min)
	}

	return
}

func runKeyword(ctx *he.Context, size int) (err error) {

	params := ctx.Parameters
	T := params.PlaintextModulus()

	kgen := heint.NewKeyGenerator(params)
	sk, pk := kgen.GenKeyPairNew()
	rlk := kgen.GenRelinearizationKeyNew(sk, ctx.EvaluationKeyParameters())
	enc := heint.NewEncryptor(params, sk)
	dec := heint.NewDecryptor(params, sk)
	ecd := codec.New(ctx)

	var hasher *keyword.Hasher
	if hasher, err = keyword.NewHasher([]byte("pirdemo"), params.MaxSlots(), T); err != nil {
		return
	}

	entries := make([]keyword.Entry, size)
	for i := range entries {
		entries[i] = keyword.Entry{Item: []byte(fmt.Sprintf("item-%d", i)), Label: uint64(i) % T}
	}

	var layout *keyword.Layout
	if err = he.RunTimed(fmt.Sprintf("Server: interpolate %d entries", size), func() (err error) {
		layout, err = keyword.NewLayout(hasher, entries)
		return
	}); err != nil {
		return
	}

	fmt.Printf("Load: %d\n", layout.Load)

	var query *keyword.Query
	if query, err = keyword.NewQuery(hasher, [][]byte{entries[size/2].Item, []byte("absent")}); err != nil {
		return
	}

	sources := []int{1}

	cts := make([]*rlwe.Ciphertext, len(sources))
	if err = he.RunTimed("Client: encrypt source powers", func() (err error) {
		for i, v := range query.SourcePowers(sources, T) {
			var pt *rlwe.Plaintext
			if pt, err = ecd.EncodeBatched(v, params.MaxLevel(), params.NewScale(1)); err != nil {
				return
			}
			if cts[i], err = enc.EncryptNew(pt); err != nil {
				return
			}
		}
		return
	}); err != nil {
		return
	}

	var table *powers.Table
	if table, err = powers.GenerateTable(sources, layout.Load, 0); err != nil {
		return
	}

	var builder *powers.Builder
	if builder, err = powers.NewBuilder(ctx, rlk); err != nil {
		return
	}

	var matcher *matching.Matcher
	if matcher, err = matching.NewMatcher(ctx, rlk, pk); err != nil {
		return
	}

	var ctMatches, ctLabels *rlwe.Ciphertext
	if err = he.RunTimed(fmt.Sprintf("Server: powers (depth %d) and matching", table.Depth()), func() (err error) {

		var xPowers []*rlwe.Ciphertext
		if xPowers, err = builder.Compute(cts, table); err != nil {
			return
		}

		if ctMatches, err = matcher.Evaluate(layout.Matching, xPowers, 0); err != nil {
			return
		}

		ctLabels, err = matcher.Evaluate(layout.Labels, xPowers, 0)

		return
	}); err != nil {
		return
	}

	var matches, labels []uint64
	if matches, err = ecd.Decode(dec.DecryptNew(ctMatches)); err != nil {
		return
	}

	if labels, err = ecd.Decode(dec.DecryptNew(ctLabels)); err != nil {
		return
	}

	found, values, err := query.Decode(matches, labels)
	if err != nil {
		return
	}

	fmt.Printf("Found: %v Labels: %v\n", found, values)

	return
}
