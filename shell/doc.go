// Package shell is the interactive console: a tokenizer, a table of named
// commands operating on FAT volumes and the clock, and a small line
// editor for raw terminals.
//
// Output lines end in CR/LF so a raw serial terminal renders them. Failed
// filesystem operations print "error <code> <context>" with the FatFs
// result number of the failure.
//
//	> mkdir logs
//	> cp readme.txt logs/readme.txt
//	readme.txt copied to logs/readme.txt
//	> cd logs
//	cwd="0:/logs"
package shell
