// Command bibcards works with participant lists from the terminal:
// inspecting them, deriving their barcodes and exporting a zip archive of
// bib card images, without running the web server.
package main
