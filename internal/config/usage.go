package config

import (
	"fmt"
	"io"
)

// PrintUsage writes the command line help.
func PrintUsage(w io.Writer, prog string) {
	fmt.Fprintf(w, "%s - ISO15765-2 protocol performance visualisation.\n", prog)
	fmt.Fprintf(w, "\nUsage: %s [options] <CAN interface>\n", prog)
	fmt.Fprintf(w, "       %s [options] -l <logfile>\n", prog)
	fmt.Fprintf(w, "Options:\n")
	fmt.Fprintf(w, "         -s <can_id>  (source can_id. Use 8 digits for extended IDs)\n")
	fmt.Fprintf(w, "         -d <can_id>  (destination can_id. Use 8 digits for extended IDs)\n")
	fmt.Fprintf(w, "         -x <addr>    (extended addressing mode)\n")
	fmt.Fprintf(w, "         -X <addr>    (extended addressing mode (rx addr))\n")
	fmt.Fprintf(w, "         -l <file>    (replay candump log file instead of a CAN interface, - for stdin)\n")
	fmt.Fprintf(w, "         -c           (classical CAN only)\n")
	fmt.Fprintf(w, "         -m <url>     (publish PDU events to MQTT broker, e.g. tcp://user:pw@host:1883)\n")
	fmt.Fprintf(w, "         -t <topic>   (MQTT topic, default %s/<src>-<dst>)\n", AppName)
	fmt.Fprintf(w, "         -i <id>      (MQTT client id)\n")
	fmt.Fprintf(w, "         -v           (verbose diagnostics on stderr)\n")
	fmt.Fprintf(w, "\nCAN IDs and addresses are given and expected in hexadecimal values.\n")
	fmt.Fprintf(w, "\n")
}
