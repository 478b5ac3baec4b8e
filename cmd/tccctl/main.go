// Command tccctl inspects and repairs the transaction records kept by a
// TCC coordinator in a bolt database file.
package main

func main() {
	execute()
}
