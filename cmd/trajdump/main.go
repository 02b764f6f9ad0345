package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/ChristopherRabotin/flightsim"
	"github.com/ChristopherRabotin/flightsim/history"
	"github.com/ChristopherRabotin/flightsim/orrery"
)

// Converts the trajectory files of a simulation run to CSV or to a
// Cosmographia catalog.

var (
	dir    string
	format string
	out    string
	name   string
)

func init() {
	flag.StringVar(&dir, "dir", ".", "directory of the trajectory files")
	flag.StringVar(&format, "format", "csv", "output format: csv or cosmographia")
	flag.StringVar(&out, "out", "", "output directory for cosmographia, defaults to -dir")
	flag.StringVar(&name, "name", "flightsim", "catalog name for cosmographia")
}

func main() {
	flag.Parse()
	trajs, err := history.ReadDir(dir)
	if err != nil {
		log.Fatalf("reading %s: %s", dir, err)
	}
	if len(trajs) == 0 {
		log.Fatalf("no trajectory in %s", dir)
	}
	switch format {
	case "csv":
		if err := writeCSV(trajs); err != nil {
			log.Fatal(err)
		}
	case "cosmographia":
		if out == "" {
			out = dir
		}
		path, err := flightsim.ExportCosmographia(out, name, trajs)
		if err != nil {
			log.Fatal(err)
		}
		counts, err := flightsim.CheckCosmographia(path)
		if err != nil {
			log.Fatalf("checking %s: %s", path, err)
		}
		states := 0
		for _, n := range counts {
			states += n
		}
		fmt.Printf("Saved %s (%d items, %d states)\n", path, len(counts), states)
	default:
		log.Fatalf("unknown format %q", format)
	}
}

func writeCSV(trajs map[int][]history.Sample) error {
	ids := make([]int, 0, len(trajs))
	for id := range trajs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	w := csv.NewWriter(os.Stdout)
	w.Write([]string{"id", "name", "t", "utc", "x", "y", "z"})
	for _, id := range ids {
		body := orrery.BodyID(id).String()
		for _, s := range trajs[id] {
			w.Write([]string{
				strconv.Itoa(id),
				body,
				strconv.FormatFloat(s.T, 'f', 3, 64),
				flightsim.J2000ToTime(s.T).Format(time.RFC3339),
				strconv.FormatFloat(s.Pos[0], 'f', 6, 64),
				strconv.FormatFloat(s.Pos[1], 'f', 6, 64),
				strconv.FormatFloat(s.Pos[2], 'f', 6, 64),
			})
		}
	}
	w.Flush()
	return w.Error()
}
