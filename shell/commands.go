package shell

import (
	"errors"
	"io"
	"strconv"

	"github.com/ardnew/mscfs/fatfs"
	"github.com/ardnew/mscfs/rtc"
)

// copyChunk is the buffer size used by cp.
const copyChunk = 512

func builtins() []Command {
	return []Command{
		{"cat", "print the specified file; usage cat filename", cmdCat},
		{"cd", "change the current working directory; usage cd <new path>", cmdCd},
		{"chdrive", "change the current drive number; usage chdrive drive_number", cmdChdrive},
		{"cp", "copy an unopened file to a different unopened file; usage cp old_file new_file", cmdCp},
		{"get-date", "get the date for file timestamps; usage get-date", cmdGetDate},
		{"get-fattime", "get the date and time for file timestamps; usage get-fattime", cmdGetFATTime},
		{"get-free", "get drive free space", cmdGetFree},
		{"get-time", "get the time of day for file timestamps; usage get-time", cmdGetTime},
		{"help", "print the available commands; usage help [command]", cmdHelp},
		{"ls", "list a directory, the current one by default; usage ls [path]", cmdLs},
		{"mkdir", "create a new directory; usage mkdir new_directory_name", cmdMkdir},
		{"mv", "rename an unopened file or an unopened, empty directory; usage mv old_name new_name", cmdMv},
		{"pwd", "print the current working directory; usage pwd", cmdPwd},
		{"rm", "delete an unopened file or an unopened, empty directory; usage rm name", cmdRm},
		{"set-date", "change the date for file timestamps; usage set-date year(1980-9999) month(1-12) day(1-31)", cmdSetDate},
		{"set-time", "change the time of day for file timestamps; usage set-time hour(0-23) minute(0-59) second(0-59)", cmdSetTime},
	}
}

func cmdHelp(s *Shell, args []string) {
	switch len(args) {
	case 0:
		for _, cmd := range s.Commands() {
			s.println(" * %s", cmd.Name)
			s.println("\t%s", cmd.Help)
		}
	case 1:
		cmd, ok := s.commands[args[0]]
		if !ok {
			s.println("Unknown command: %s. Write \"help\" for a list of available commands", args[0])
			return
		}
		s.println(" * %s", cmd.Name)
		s.println("\t%s", cmd.Help)
	default:
		s.println("usage: help [command]")
	}
}

func cmdCat(s *Shell, args []string) {
	if len(args) != 1 {
		s.println("usage: cat filename")
		return
	}
	f, err := s.vols.Open(args[0])
	if err != nil {
		s.println("error %d opening file %s", fatfs.Code(err), args[0])
		return
	}
	defer f.Close()

	buf := make([]byte, copyChunk)
	var last byte = '\n'
	for {
		n, err := f.Read(buf)
		if n > 0 {
			s.write(buf[:n])
			last = buf[n-1]
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.println("")
			s.println("error %d reading file %s", fatfs.Code(err), args[0])
			return
		}
	}
	if last != '\n' {
		s.println("")
	}
}

func cmdCd(s *Shell, args []string) {
	target := "/"
	switch len(args) {
	case 0:
	case 1:
		target = args[0]
	default:
		s.println("usage: cd <new path>")
		return
	}
	if err := s.vols.Chdir(target); err != nil {
		s.println("error %d setting cwd to %s", fatfs.Code(err), target)
	}
	s.println("cwd=\"%s\"", s.vols.Getcwd())
}

func cmdChdrive(s *Shell, args []string) {
	last := s.vols.NumDrives() - 1
	if len(args) != 1 {
		s.println("usage chdrive drive_number(0-%d)", last)
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 || n > last {
		s.println("usage chdrive drive_number(0-%d)", last)
		return
	}
	if err := s.vols.ChangeDrive(uint8(n)); err != nil {
		s.println("error %d setting drive to %d", fatfs.Code(err), n)
	}
}

func cmdLs(s *Shell, args []string) {
	dir := ""
	switch len(args) {
	case 0:
	case 1:
		dir = args[0]
	default:
		s.println("usage: ls [path]")
		return
	}
	entries, err := s.vols.ReadDir(dir)
	if err != nil {
		s.println("error %d listing files on drive", fatfs.Code(err))
		return
	}
	for _, e := range entries {
		mt := rtc.FromTime(e.ModTime())
		suffix := ""
		if e.IsDir() {
			suffix = "/"
		}
		s.println("%d\t%02d/%02d/%04d\t%02d:%02d:%02d\t%s%s",
			e.Size(), mt.Month, mt.Day, mt.Year, mt.Hour, mt.Minute, mt.Second, e.Name(), suffix)
	}
}

func cmdPwd(s *Shell, args []string) {
	s.println("cwd=%s", s.vols.Getcwd())
}

func cmdMkdir(s *Shell, args []string) {
	if len(args) != 1 {
		s.println("usage: mkdir directory-name")
		return
	}
	if err := s.vols.Mkdir(args[0]); err != nil {
		s.println("error %d creating directory %s", fatfs.Code(err), args[0])
	}
}

func cmdRm(s *Shell, args []string) {
	if len(args) != 1 {
		s.println("usage: rm filename")
		return
	}
	if err := s.vols.Remove(args[0]); err != nil {
		s.println("error %d deleting %s", fatfs.Code(err), args[0])
		return
	}
	s.println("%s deleted", args[0])
}

func cmdMv(s *Shell, args []string) {
	if len(args) != 2 {
		s.println("usage: mv old new")
		return
	}
	if err := s.vols.Rename(args[0], args[1]); err != nil {
		s.println("error %d renaming %s to %s", fatfs.Code(err), args[0], args[1])
		return
	}
	s.println("%s renamed to %s", args[0], args[1])
}

func cmdCp(s *Shell, args []string) {
	if len(args) != 2 {
		s.println("usage: cp from-file to-file")
		return
	}
	from, to := args[0], args[1]

	src, err := s.vols.Open(from)
	if err != nil {
		s.println("error %d opening %s for reading", fatfs.Code(err), from)
		return
	}
	defer src.Close()

	dst, err := s.vols.Create(to)
	if err != nil {
		s.println("error %d opening %s for writing", fatfs.Code(err), to)
		return
	}

	_, err = io.CopyBuffer(onlyWriter{dst}, onlyReader{src}, make([]byte, copyChunk))
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.println("error %d copying %s to %s", fatfs.Code(err), from, to)
		return
	}
	s.println("%s copied to %s", from, to)
}

// onlyReader and onlyWriter hide ReadFrom and WriteTo so io.CopyBuffer
// moves data through the given buffer.
type (
	onlyReader struct{ io.Reader }
	onlyWriter struct{ io.Writer }
)

func cmdGetDate(s *Shell, args []string) {
	year, month, day, _ := s.clock.Date()
	s.println("date(MM/DD/YYYY)=%02d/%02d/%04d", month, day, year)
}

func cmdSetDate(s *Shell, args []string) {
	if len(args) != 3 || s.setDate(args) != nil {
		s.println("usage: set-date YYYY(1980-9999) MM(1-12) DD(1-31)")
	}
}

func (s *Shell) setDate(args []string) error {
	year, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		return err
	}
	month, err := strconv.ParseUint(args[1], 10, 8)
	if err != nil {
		return err
	}
	day, err := strconv.ParseUint(args[2], 10, 8)
	if err != nil {
		return err
	}
	return s.clock.SetDate(uint16(year), uint8(month), uint8(day))
}

func cmdGetTime(s *Shell, args []string) {
	hour, minute, second := s.clock.Time()
	s.println("time=%02d:%02d:%02d", hour, minute, second)
}

func cmdSetTime(s *Shell, args []string) {
	if len(args) != 3 || s.setTime(args) != nil {
		s.println("usage: set-time hour(0-23) min(0-59) sec(0-59)")
	}
}

func (s *Shell) setTime(args []string) error {
	var hms [3]uint8
	for i, arg := range args {
		v, err := strconv.ParseUint(arg, 10, 8)
		if err != nil {
			return err
		}
		hms[i] = uint8(v)
	}
	return s.clock.SetTime(hms[0], hms[1], hms[2])
}

func cmdGetFATTime(s *Shell, args []string) {
	dt := rtc.UnpackFAT(s.clock.FATTime())
	s.println("%02d/%02d/%04d %02d:%02d:%02d",
		dt.Month, dt.Day, dt.Year, dt.Hour, dt.Minute, dt.Second)
}

func cmdGetFree(s *Shell, args []string) {
	total, free, err := s.vols.Free("")
	if err != nil {
		s.println("error %d getting free space", fatfs.Code(err))
		return
	}
	s.println("%10d KiB total drive space.", total/1024)
	s.println("%10d KiB available.", free/1024)
}
