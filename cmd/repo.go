// Copyright 2017 Pilosa Corp.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
// notice, this list of conditions and the following disclaimer in the
// documentation and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
// contributors may be used to endorse or promote products derived
// from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND
// CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES,
// INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
// MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR
// CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING,
// BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY,
// WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
// NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH
// DAMAGE.

package cmd

import (
	"io"

	"github.com/featuredemo/fdk/featurerepo"
	"github.com/jaffee/commandeer/cobrafy"
	"github.com/spf13/cobra"
)

// The repo commands' mains are only exported for testing purposes.
var (
	ApplyMain       *featurerepo.ApplyMain
	TeardownMain    *featurerepo.TeardownMain
	MaterializeMain *featurerepo.MaterializeMain
	OnlineMain      *featurerepo.OnlineMain
	ReplayMain      *featurerepo.ReplayMain
)

func cobraCommand(main interface{}, use, short string) *cobra.Command {
	command, err := cobrafy.Command(main)
	if err != nil {
		panic(err)
	}
	command.Use = use
	command.Short = use + " - " + short
	return command
}

// NewApplyCommand returns a new cobra command wrapping ApplyMain.
func NewApplyCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	ApplyMain = featurerepo.NewApplyMain()
	return cobraCommand(ApplyMain, "apply", "register the repo's entities and feature views")
}

// NewTeardownCommand returns a new cobra command wrapping TeardownMain.
func NewTeardownCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	TeardownMain = featurerepo.NewTeardownMain()
	return cobraCommand(TeardownMain, "teardown", "remove online rows and empty the registry")
}

// NewMaterializeCommand returns a new cobra command wrapping MaterializeMain.
func NewMaterializeCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	MaterializeMain = featurerepo.NewMaterializeMain()
	return cobraCommand(MaterializeMain, "materialize-incremental", "load offline rows into the online store")
}

// NewOnlineCommand returns a new cobra command wrapping OnlineMain.
func NewOnlineCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	OnlineMain = featurerepo.NewOnlineMain()
	OnlineMain.Stdout = stdout
	return cobraCommand(OnlineMain, "online", "print online features of entity rows")
}

// NewReplayCommand returns a new cobra command wrapping ReplayMain.
func NewReplayCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	ReplayMain = featurerepo.NewReplayMain()
	ReplayMain.Stdout = stdout
	return cobraCommand(ReplayMain, "replay", "write an S3 archive back into the online store")
}

func init() {
	subcommandFns["apply"] = NewApplyCommand
	subcommandFns["teardown"] = NewTeardownCommand
	subcommandFns["materialize-incremental"] = NewMaterializeCommand
	subcommandFns["online"] = NewOnlineCommand
	subcommandFns["replay"] = NewReplayCommand
}
