// Package obstable renders the cached server listing as an ASCII table
// for operator visibility when LOG_LEVEL=debug. This is a side-channel
// debug print only — it is never part of the /servers HTTP response and
// never alters its JSON body.
package obstable

import (
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/ottdbridge/bridge/internal/protocol"
)

// PrintServerTable writes a human-readable table of the given server
// records to stdout.
func PrintServerTable(records []protocol.ServerRecord) {
	if len(records) == 0 {
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Name", "Clients", "Companies", "Map", "Landscape", "Dedicated"})

	for _, r := range records {
		table.Append([]string{
			r.Name,
			strconv.Itoa(int(r.ClientsOn)) + "/" + strconv.Itoa(int(r.ClientsMax)),
			strconv.Itoa(int(r.CompaniesOn)) + "/" + strconv.Itoa(int(r.CompaniesMax)),
			strconv.Itoa(int(r.MapWidth)) + "x" + strconv.Itoa(int(r.MapHeight)),
			r.Landscape.String(),
			strconv.FormatBool(r.Dedicated),
		})
	}
	table.Render()
}
