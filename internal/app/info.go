package app

import (
	"context"
	"flag"
	"fmt"

	"github.com/dmitrijs2005/sfpubsub/internal/common"
	"github.com/dmitrijs2005/sfpubsub/internal/flagx"
)

func (a *App) topic(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("topic", flag.ContinueOnError)
	name := fs.String("t", "", "topic name, e.g. /event/Order_Placed__e")
	if err := fs.Parse(flagx.FilterArgs(args, []string{"-t"})); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("%w: -t is required", common.ErrInvalidArgument)
	}

	info, err := a.session.RefreshTopic(ctx, *name)
	if err != nil {
		return err
	}
	return a.writeJSON(topicLine{
		TopicName:    info.TopicName,
		TenantGUID:   info.TenantGUID,
		CanPublish:   info.CanPublish,
		CanSubscribe: info.CanSubscribe,
		SchemaID:     info.SchemaID,
	})
}

// schema prints the Avro definition for -id, or for the current schema of
// topic -t. -canonical prints the Parsing Canonical Form instead.
func (a *App) schema(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("schema", flag.ContinueOnError)
	id := fs.String("id", "", "schema id")
	topic := fs.String("t", "", "topic name")
	canonical := fs.Bool("canonical", false, "print the Parsing Canonical Form")
	if err := fs.Parse(flagx.FilterArgs(args, []string{"-id", "-t", "-canonical"})); err != nil {
		return err
	}
	if (*id == "") == (*topic == "") {
		return fmt.Errorf("%w: exactly one of -id and -t is required", common.ErrInvalidArgument)
	}

	if *topic != "" {
		info, err := a.session.GetTopic(ctx, *topic)
		if err != nil {
			return err
		}
		*id = info.SchemaID
	}

	d, err := a.session.GetSchema(ctx, *id)
	if err != nil {
		return err
	}
	def := d.Definition
	if *canonical {
		def = d.Canonical()
	}
	a.outMu.Lock()
	defer a.outMu.Unlock()
	_, err = fmt.Fprintln(a.out, def)
	return err
}
