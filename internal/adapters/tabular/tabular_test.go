package tabular_test

import (
	"errors"
	"testing"

	"github.com/okian/noticeledger/internal/adapters/tabular"
	. "github.com/smartystreets/goconvey/convey"
)

func TestEncode(t *testing.T) {
	Convey("Given the comma codec", t, func() {
		c := tabular.Comma()

		Convey("Plain fields are written as is", func() {
			So(c.Encode([]string{"a", "1.5", ""}), ShouldEqual, "a,1.5,")
		})

		Convey("Fields with the delimiter, quotes or whitespace are quoted", func() {
			So(c.Encode([]string{"GRB 250113A", "x,y", `say "hi"`}), ShouldEqual,
				`"GRB 250113A","x,y","say ""hi"""`)
		})

		Convey("Line breaks are flattened", func() {
			So(c.Encode([]string{"host\r\ngalaxy\nz"}), ShouldEqual, `"host galaxy z"`)
		})
	})

	Convey("Given the space codec", t, func() {
		c := tabular.Space()

		Convey("Empty fields are quoted so they survive", func() {
			So(c.Encode([]string{"a", "", "b"}), ShouldEqual, `a "" b`)
		})

		Convey("Tabs force quoting", func() {
			So(c.Encode([]string{"a\tb"}), ShouldEqual, "\"a\tb\"")
		})
	})
}

func TestDecode(t *testing.T) {
	Convey("Given the comma codec", t, func() {
		c := tabular.Comma()

		cases := map[string][]string{
			"a,b":                      {"a", "b"},
			"a,":                       {"a", ""},
			",":                        {"", ""},
			`"GRB 250113A",x`:          {"GRB 250113A", "x"},
			`"x,y","say ""hi""",z`:     {"x,y", `say "hi"`, "z"},
			"a,b\r\n":                  {"a", "b"},
			`"",""`:                    {"", ""},
			"unquoted space,still one": {"unquoted space", "still one"},
		}
		for line, want := range cases {
			got, err := c.Decode(line)
			So(err, ShouldBeNil)
			So(got, ShouldResemble, want)
		}

		Convey("Malformed rows are rejected", func() {
			for _, line := range []string{`"open`, `"a"b,c`, `a"b`} {
				_, err := c.Decode(line)
				So(errors.Is(err, tabular.ErrMalformed), ShouldBeTrue)
			}
		})

		Convey("DecodeN checks the field count", func() {
			_, err := c.DecodeN("a,b,c", 2)
			So(errors.Is(err, tabular.ErrMalformed), ShouldBeTrue)
			got, err := c.DecodeN("a,b", 2)
			So(err, ShouldBeNil)
			So(got, ShouldResemble, []string{"a", "b"})
		})
	})

	Convey("Given the space codec", t, func() {
		c := tabular.Space()

		Convey("Runs of blanks separate fields", func() {
			got, err := c.Decode("  a \t  \"b c\"   \"\"  d ")
			So(err, ShouldBeNil)
			So(got, ShouldResemble, []string{"a", "b c", "", "d"})
		})

		Convey("A blank line has no fields", func() {
			got, err := c.Decode("   ")
			So(err, ShouldBeNil)
			So(got, ShouldBeEmpty)
		})
	})
}

func TestRoundTrip(t *testing.T) {
	Convey("Given awkward field values", t, func() {
		fields := []string{"", "GRB 250113A", `q"uote`, "a,b", "tab\there", "plain"}

		for _, c := range []tabular.Codec{tabular.Comma(), tabular.Space()} {
			got, err := c.DecodeN(c.Encode(fields), len(fields))
			So(err, ShouldBeNil)
			So(got, ShouldResemble, fields)
		}
	})
}

func TestNew(t *testing.T) {
	Convey("Given delimiter choices", t, func() {
		c, err := tabular.New('|')
		So(err, ShouldBeNil)
		So(c.Delimiter(), ShouldEqual, '|')
		So(c.Encode([]string{"a|b", "c"}), ShouldEqual, `"a|b"|c`)

		for _, bad := range []rune{'"', '\n', '\x00'} {
			_, err := tabular.New(bad)
			So(err, ShouldNotBeNil)
		}
	})
}
