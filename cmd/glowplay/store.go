package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/fortiblox/glow/pkg/program"
	"github.com/fortiblox/glow/pkg/storage"
)

const defaultProgramDB = "glow-data/programs.db"

func importCmd(args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	dbPath := fs.String("db", defaultProgramDB, "Program store path")
	activate := fs.Bool("activate", true, "Make the imported program the active one")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return errors.New("usage: glowplay import [-db path] <image>")
	}
	img, err := program.Load(fs.Arg(0))
	if err != nil {
		return err
	}

	store, err := storage.OpenProgramStore(storage.DefaultProgramStoreConfig(*dbPath))
	if err != nil {
		return err
	}
	defer store.Close()

	id, err := store.Put(img.Data)
	if err != nil {
		return err
	}
	if *activate {
		if err := store.SetActive(id); err != nil {
			return err
		}
	}
	fmt.Println(id)
	return nil
}

func exportCmd(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	dbPath := fs.String("db", defaultProgramDB, "Program store path")
	id := fs.String("id", "", "Base58 program id (default: the active program)")
	out := fs.String("o", "", "Output file; a .zst suffix writes a compressed image")
	fs.Parse(args)

	if *out == "" {
		return errors.New("-o is required")
	}

	store, err := storage.OpenProgramStore(storage.ProgramStoreConfig{Path: *dbPath, ReadOnly: true})
	if err != nil {
		return err
	}
	defer store.Close()

	pid, err := selectProgram(store, *id)
	if err != nil {
		return err
	}
	data, err := store.Get(pid)
	if err != nil {
		return err
	}
	if strings.HasSuffix(*out, ".zst") {
		if data, err = program.Compress(data); err != nil {
			return err
		}
	}
	return os.WriteFile(*out, data, 0o644)
}

func listCmd(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	dbPath := fs.String("db", defaultProgramDB, "Program store path")
	fs.Parse(args)

	store, err := storage.OpenProgramStore(storage.ProgramStoreConfig{Path: *dbPath, ReadOnly: true})
	if err != nil {
		return err
	}
	defer store.Close()

	ids, err := store.List()
	if err != nil {
		return err
	}
	active, err := store.Active()
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	for _, id := range ids {
		mark := " "
		if id == active {
			mark = "*"
		}
		fmt.Printf("%s %s\n", mark, id)
	}
	return nil
}

func infoCmd(args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	fs.Parse(args)

	if fs.NArg() == 0 {
		return errors.New("usage: glowplay info <image>...")
	}
	for i, path := range fs.Args() {
		img, err := program.Load(path)
		if err != nil {
			return err
		}
		if i > 0 {
			fmt.Println()
		}
		fmt.Printf("file:          %s\n", path)
		if err := img.Describe(os.Stdout); err != nil {
			return err
		}
	}
	return nil
}
