/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package logfmt

import "github.com/muesli/termenv"

// Color is a terminal color that can be rendered as an ANSI sequence.
type Color = termenv.Color

// Standard ANSI 4-bit color palette.
const (
	ANSIBlack   = termenv.ANSIColor(0)
	ANSIRed     = termenv.ANSIColor(1)
	ANSIGreen   = termenv.ANSIColor(2)
	ANSIYellow  = termenv.ANSIColor(3)
	ANSIBlue    = termenv.ANSIColor(4)
	ANSIMagenta = termenv.ANSIColor(5)
	ANSICyan    = termenv.ANSIColor(6)
	ANSIWhite   = termenv.ANSIColor(7)

	ANSIBrightBlack   = termenv.ANSIColor(8)
	ANSIBrightRed     = termenv.ANSIColor(9)
	ANSIBrightGreen   = termenv.ANSIColor(10)
	ANSIBrightYellow  = termenv.ANSIColor(11)
	ANSIBrightBlue    = termenv.ANSIColor(12)
	ANSIBrightMagenta = termenv.ANSIColor(13)
	ANSIBrightCyan    = termenv.ANSIColor(14)
	ANSIBrightWhite   = termenv.ANSIColor(15)
)
