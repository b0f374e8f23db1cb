package main

import (
	"flag"
	"fmt"
	"io"
)

type flagSet struct {
	ConfigPath string
	Model      string
	Watch      bool
}

// parseFlags parses the flags, returning the remaining arguments. Every flag
// has a short and a long form, setting both is an error.
func parseFlags(args []string, output io.Writer) (flagSet, []string, error) {
	fs := flag.NewFlagSet("ergon", flag.ContinueOnError)
	fs.SetOutput(output)
	cShort := fs.String("c", "", "Set the path of the configuration file. Mutually exclusive with config flag.")
	cLong := fs.String("config", "", "Set the path of the configuration file. Mutually exclusive with c flag.")
	mShort := fs.String("m", "", "Set the model to use. Mutually exclusive with model flag.")
	mLong := fs.String("model", "", "Set the model to use. Mutually exclusive with m flag.")
	wShort := fs.Bool("w", false, "Set to true to reload the tool servers when the configuration file changes.")
	wLong := fs.Bool("watch", false, "Set to true to reload the tool servers when the configuration file changes.")
	if err := fs.Parse(args); err != nil {
		return flagSet{}, nil, err
	}

	var ret flagSet
	var err error
	if ret.ConfigPath, err = exclusive(*cShort, *cLong, "c", "config"); err != nil {
		return flagSet{}, nil, err
	}
	if ret.Model, err = exclusive(*mShort, *mLong, "m", "model"); err != nil {
		return flagSet{}, nil, err
	}
	ret.Watch = *wShort || *wLong
	return ret, fs.Args(), nil
}

func exclusive(short, long, shortName, longName string) (string, error) {
	if short != "" && long != "" {
		return "", fmt.Errorf("%v and %v flags are mutually exclusive", shortName, longName)
	}
	if short != "" {
		return short, nil
	}
	return long, nil
}
