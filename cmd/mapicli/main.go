// Command mapicli is a minimal smoke-test client: connect to a MAPI
// server, run one query, print the rows. It carries no state between
// invocations and exists purely as packaging metadata, mirroring the
// teacher's own cmd/syndrdb entrypoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/dan-strohschein/mapigo/mapidb"
	"github.com/dan-strohschein/mapigo/resultset"
)

const version = "0.1.0"

func main() {
	dsn := flag.String("dsn", "127.0.0.1:50000/monetdb", "connection string: host:port/database")
	query := flag.String("query", "", "SQL statement to run")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Printf("mapicli v%s\n", version)
		return
	}
	if *query == "" {
		printError("-query is required")
		printUsage()
		os.Exit(1)
	}

	db, err := mapidb.Open(*dsn)
	if err != nil {
		printError(fmt.Sprintf("connect: %v", err))
		os.Exit(1)
	}
	defer db.Close()

	result, err := db.Query(context.Background(), *query)
	if err != nil {
		printError(fmt.Sprintf("query: %v", err))
		os.Exit(1)
	}

	printResult(result)
}

func printResult(result *resultset.Result) {
	if len(result.Columns) > 0 {
		fmt.Println(joinRow(result.Columns))
	}
	for _, row := range result.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = v.String()
		}
		fmt.Println(joinRow(cells))
	}
	if result.Kind == resultset.ResultUpsert {
		fmt.Printf("%d row(s) affected\n", result.RowCount)
	}
}

func printUsage() {
	fmt.Println(colorBold(colorCyan("mapicli")) + " - run one query against a MAPI server")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  mapicli " + colorYellow("-dsn") + " host:port/database " + colorYellow("-query") + " 'select 1'")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  " + colorGreen("-dsn") + "       connection string (default 127.0.0.1:50000/monetdb)")
	fmt.Println("  " + colorGreen("-query") + "     SQL statement to run")
	fmt.Println("  " + colorGreen("-version") + "   print version and exit")
}

func joinRow(cells []string) string {
	return strings.Join(cells, "\t")
}
