// mindtype drives the correction engine from the command line. It plays
// the host's role: requests are read as JSON lines and every response is
// written back as one line.
package main

func main() {
	Execute()
}
