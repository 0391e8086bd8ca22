// Command csvchat runs the CSV chatbot actions against a local file.
package main

func main() {
	Execute()
}
